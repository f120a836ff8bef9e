// Package sessions implements the per-chat message list and settings bundle:
// atomic file persistence, edit/delete/truncate operations keyed by message
// timestamp, and the assistant+tool "display view" transform.
package sessions

import (
	"regexp"
	"strings"
)

// DefaultChatName is the reserved default chat; it always exists and cannot
// be deleted.
const DefaultChatName = "default"

var nameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeName trims and lowercases name, then replaces each run of
// characters outside [a-z0-9_] with a single underscore.
func SanitizeName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	return nameSanitizer.ReplaceAllString(lower, "_")
}

// Role is one of the four message roles a chat can contain.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is one entry of an assistant message's ordered tool-call list.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in a chat's history. Timestamp is the identity
// key: within a chat, timestamps are unique and strictly increasing in
// insertion order.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Timestamp  string     `json:"timestamp"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolInputs string     `json:"tool_inputs,omitempty"`
}

// Settings is a chat's mutable configuration bundle. The key set is closed
// per spec; UpdateChatSettings stores whatever its callback sets, and does
// not guard PrivacyRequired against being overwritten.
type Settings struct {
	Prompt              string `json:"prompt"`
	Toolset             string `json:"toolset"`
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	Voice               string `json:"voice"`
	Pitch               float64 `json:"pitch"`
	Speed               float64 `json:"speed"`
	SpiceSet            string `json:"spice_set"`
	SpiceEnabled        bool   `json:"spice_enabled"`
	SpiceTurns          int    `json:"spice_turns"`
	InjectDatetime      bool   `json:"inject_datetime"`
	CustomContext       string `json:"custom_context"`
	MemoryScope         string `json:"memory_scope"`
	TrimColor           string `json:"trim_color"`
	StateEngineEnabled  bool   `json:"state_engine_enabled"`
	StatePreset         string `json:"state_preset"`
	StateVarsInPrompt   bool   `json:"state_vars_in_prompt"`
	StateStoryInPrompt  bool   `json:"state_story_in_prompt"`
	PrivacyRequired     bool   `json:"privacy_required"`
}

// DefaultSettings returns the settings bundle a newly created chat starts
// with.
func DefaultSettings() Settings {
	return Settings{
		Prompt:     "default",
		Toolset:    "none",
		Provider:   "claude",
		Model:      "",
		SpiceTurns: 0,
	}
}

// Chat is the full persisted document for one chat file.
type Chat struct {
	Settings Settings  `json:"settings"`
	Messages []Message `json:"messages"`
}
