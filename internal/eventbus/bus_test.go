package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe(false)
	defer sub.Close()

	b.Publish(MessageAdded, map[string]any{"n": 1})
	b.Publish(MessageAdded, map[string]any{"n": 2})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev1, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ev1.Data["n"])

	ev2, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ev2.Data["n"])
}

func TestSubscribeWithReplayDrainsRing(t *testing.T) {
	b := New()
	b.Publish(ChatSwitched, map[string]any{"name": "default"})

	sub := b.Subscribe(true)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChatSwitched, ev.Type)
}

func TestSubscribeWithoutReplaySeesOnlyFutureEvents(t *testing.T) {
	b := New()
	b.Publish(ChatSwitched, nil)

	sub := b.Subscribe(false)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ev, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEqual(t, ChatSwitched, ev.Type)
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe(false)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberQueueSize+10; i++ {
			b.Publish(MessageAdded, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.SubscriberCount())

	sub1 := b.Subscribe(false)
	sub2 := b.Subscribe(false)
	assert.Equal(t, 2, b.SubscriberCount())

	sub1.Close()
	assert.Equal(t, 1, b.SubscriberCount())
	sub2.Close()
}

func TestReplayRingIsBounded(t *testing.T) {
	b := New(WithReplaySize(3))
	for i := 0; i < 10; i++ {
		b.Publish(MessageAdded, map[string]any{"n": i})
	}
	sub := b.Subscribe(true)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var seen []int
	for i := 0; i < 3; i++ {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		seen = append(seen, ev.Data["n"].(int))
	}
	assert.Equal(t, []int{7, 8, 9}, seen)
}

// TestPublishNeverPanicsAfterConcurrentClose drives Close and Publish
// against the same subscriber concurrently; trySend's closed check and the
// channel send share a lock with Close, so a racing Publish must never send
// on (and panic against) an already-closed channel.
func TestPublishNeverPanicsAfterConcurrentClose(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		sub := b.Subscribe(false)
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			b.Publish(MessageAdded, map[string]any{"n": 1})
		}()
	}
	wg.Wait()
}

func TestSendToClosedSubscriptionIsDropped(t *testing.T) {
	b := New()
	sub := b.Subscribe(false)
	sub.Close()

	b.subscribers[sub.id] = sub // simulate a Publish that raced the map deletion
	assert.Equal(t, sendClosed, sub.trySend(Event{Type: MessageAdded}))
}
