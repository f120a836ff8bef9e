// Package continuity implements ContinuityScheduler + Executor: a
// background worker that fires cron-scheduled tasks against either an
// isolated ephemeral chat context or the active foreground chat.
package continuity

import "time"

// Task is one continuity task definition.
type Task struct {
	ID              string
	Name            string
	Enabled         bool
	CronExpr        string
	CooldownMinutes int
	Chance          int // 1-100; 100 means always run
	ChatTarget      string // empty means ephemeral mode
	Iterations      int
	InitialMessage  string
	TTSEnabled      bool

	// Settings applied to ChatTarget before a foreground run, mirroring the
	// task's own {prompt, toolset, provider, model, memory_scope,
	// inject_datetime} bundle. Zero values leave the target chat's existing
	// setting untouched.
	Prompt         string
	Toolset        string
	Provider       string
	Model          string
	MemoryScope    string
	InjectDatetime bool

	LastRun time.Time
}

// ActivityKind is the closed set of activity-log entry kinds.
type ActivityKind string

const (
	ActivityStarting ActivityKind = "continuity-task-starting"
	ActivityComplete ActivityKind = "continuity-task-complete"
	ActivityError    ActivityKind = "continuity-task-error"
	ActivitySkipped  ActivityKind = "continuity-task-skipped"
)

// ActivityEntry is one row of the capped activity ring.
type ActivityEntry struct {
	TaskID    string
	Kind      ActivityKind
	Timestamp time.Time
	Detail    string
}

// ActivityRingSize bounds the scheduler's in-memory activity log.
const ActivityRingSize = 50
