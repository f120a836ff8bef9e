package riddles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnswerIsDeterministicAcrossCalls(t *testing.T) {
	cfg := Config{ID: "r1", Kind: KindNumeric, Digits: 4}
	a1 := Answer("alice", cfg)
	a2 := Answer("alice", cfg)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 4)
}

func TestAnswerVariesByChatName(t *testing.T) {
	cfg := Config{ID: "r1", Kind: KindNumeric, Digits: 6}
	assert.NotEqual(t, Answer("alice", cfg), Answer("bob", cfg))
}

func TestAnswerFixedReturnsConfiguredValue(t *testing.T) {
	cfg := Config{Kind: KindFixed, FixedAnswer: "sesame"}
	assert.Equal(t, "sesame", Answer("any", cfg))
}

func TestAnswerWordIndexesIntoWordlist(t *testing.T) {
	cfg := Config{ID: "r2", Kind: KindWord, Wordlist: []string{"apple", "banana", "cherry"}}
	answer := Answer("carol", cfg)
	assert.Contains(t, cfg.Wordlist, answer)
}

func TestCheckAttemptMatchesStoredHash(t *testing.T) {
	hash := HashAnswer("sesame")
	assert.True(t, CheckAttempt(hash, "sesame"))
	assert.False(t, CheckAttempt(hash, "wrong"))
}

func TestHashAnswerNeverEqualsPlaintext(t *testing.T) {
	assert.NotEqual(t, "sesame", HashAnswer("sesame"))
	assert.Len(t, HashAnswer("sesame"), 64)
}
