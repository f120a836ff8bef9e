// Package stateengine implements the StateEngine: typed, logged, per-chat
// state with optional progressive prompt assembly, backed by SQLite.
package stateengine

import "time"

// ValueType is the inferred kind of a state value.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeNumber ValueType = "number"
	TypeBool   ValueType = "bool"
)

// Blocker guards a transition: if the attempted new value is in Target (or
// the current value is in From) and any key in Requires is not at its
// required value, the write is refused with Message.
type Blocker struct {
	Target   []string          `yaml:"target,omitempty"`
	From     []string          `yaml:"from,omitempty"`
	Requires map[string]string `yaml:"requires,omitempty"`
	Message  string            `yaml:"message"`
}

// Constraints is the closed set of rules set_state applies, in order.
type Constraints struct {
	Min         *float64  `yaml:"min,omitempty"`
	Max         *float64  `yaml:"max,omitempty"`
	Adjacent    *float64  `yaml:"adjacent,omitempty"`
	Options     []string  `yaml:"options,omitempty"`
	Blockers    []Blocker `yaml:"blockers,omitempty"`
	VisibleFrom *float64  `yaml:"visible_from,omitempty"`
}

// Value is one row of state_current.
type Value struct {
	ChatName    string
	Key         string
	Value       string
	ValueType   ValueType
	Label       string
	Constraints Constraints
	UpdatedAt   time.Time
	UpdatedBy   string
	TurnNumber  int
}

// System keys are reserved; AI-originated writes to any of them are refused.
const systemKeyPrefix = "_"

func isSystemKey(key string) bool {
	return len(key) > 0 && key[0:1] == systemKeyPrefix
}

func riddleHashKey(riddleID string) string   { return "_riddle_" + riddleID + "_hash" }
func riddleAttemptsKey(riddleID string) string { return "_riddle_" + riddleID + "_attempts" }
func riddleSolvedKey(riddleID string) string { return "_riddle_" + riddleID + "_solved" }
func riddleLockedKey(riddleID string) string { return "_riddle_" + riddleID + "_locked" }

const (
	keyVisitedRooms    = "_visited_rooms"
	keyLastRoll        = "_last_roll"
	keySceneEnteredAt  = "_scene_entered_at"
	keyPreset          = "_preset"
)
