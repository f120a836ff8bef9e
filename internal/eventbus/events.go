package eventbus

// Kind is the closed set of lifecycle event tags published across the core.
type Kind string

const (
	AITypingStart    Kind = "ai-typing-start"
	AITypingEnd      Kind = "ai-typing-end"
	MessageAdded     Kind = "message-added"
	MessageRemoved   Kind = "message-removed"
	ChatSwitched     Kind = "chat-switched"
	ChatCleared      Kind = "chat-cleared"
	TTSPlaying       Kind = "tts-playing"
	TTSStopped       Kind = "tts-stopped"
	STTRecordStart   Kind = "stt-recording-start"
	STTRecordEnd     Kind = "stt-recording-end"
	STTProcessing    Kind = "stt-recording-processing"
	WakewordDetected Kind = "wakeword-detected"
	ToolExecuting    Kind = "tool-executing"
	ToolComplete     Kind = "tool-complete"
	PromptChanged    Kind = "prompt-changed"
	AbilityChanged   Kind = "ability-changed"
	SpiceChanged     Kind = "spice-changed"
	ContextWarning   Kind = "context-warning"
	ContextCritical  Kind = "context-critical"
	LLMError         Kind = "llm-error"
	TTSError         Kind = "tts-error"
	STTError         Kind = "stt-error"

	ContinuityTaskStarting Kind = "continuity-task-starting"
	ContinuityTaskComplete Kind = "continuity-task-complete"
	ContinuityTaskSkipped  Kind = "continuity-task-skipped"
	ContinuityTaskError    Kind = "continuity-task-error"

	// Keepalive is synthesized by the bus itself when a subscriber's queue
	// has produced nothing for 30 seconds, so intermediate proxies do not
	// consider the connection idle.
	Keepalive Kind = "keepalive"
)
