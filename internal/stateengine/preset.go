package stateengine

import (
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/choices"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/navigation"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/riddles"
)

// PromptMode is the progressive-prompt assembly strategy.
type PromptMode string

const (
	ModeCumulative  PromptMode = "cumulative"
	ModeCurrentOnly PromptMode = "current_only"
)

// Preset is a loaded state-engine configuration: the iterator variable,
// declared variable constraints, prompt segments, and the three optional
// features (choices, riddles, navigation).
type Preset struct {
	Name        string
	Base        string
	Iterator    string
	Mode        PromptMode
	Segments    map[string]string // "<base-key>?cond1,cond2" -> text
	Variables   map[string]Constraints
	Choices     []choices.Config
	Riddles     []riddles.Config
	Connections navigation.Map
	StartRoom   string
}
