package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sapphire-ai/sapphire/internal/eventbus"
	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
)

// TickInterval is the scheduler's wake cadence.
const TickInterval = 30 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a five-field cron expression, returning an error if
// it is malformed. Used to reject invalid expressions at task create/update
// time, before they ever reach the scheduler.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// matchesCurrentMinute reports whether expr's next fire time after
// (now - 1 minute) lands in now's minute. Matching is at-most-once per
// minute per task; a fire window missed while the process was down is
// lost, never caught up.
func matchesCurrentMinute(expr string, now time.Time) (bool, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	next := schedule.Next(now.Add(-time.Minute))
	return next.Truncate(time.Minute).Equal(now.Truncate(time.Minute)), nil
}

// Executor runs one task in either mode.
type Executor interface {
	RunEphemeral(ctx context.Context, task *Task) error
	RunForeground(ctx context.Context, task *Task) error
}

// Scheduler is the ContinuityScheduler: a 30s tick loop over a set of
// registered tasks.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	executor Executor
	bus      *eventbus.Bus
	now      func() time.Time
	rollFunc func() int // returns a uniform roll in [1, 100]
	activity []ActivityEntry
	log      *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// New builds a Scheduler with no tasks registered.
func New(executor Executor, bus *eventbus.Bus) *Scheduler {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Scheduler{
		tasks:    make(map[string]*Task),
		executor: executor,
		bus:      bus,
		now:      time.Now,
		rollFunc: func() int { return 1 + src.Intn(100) },
		log:      slog.Default().With("component", "continuity"),
	}
}

// RegisterTask adds or replaces a task.
func (s *Scheduler) RegisterTask(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// UnregisterTask removes a task by id.
func (s *Scheduler) UnregisterTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Tasks returns a snapshot of every registered task.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// GetTask returns the task registered under id, if any.
func (s *Scheduler) GetTask(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// TimelineEntry is one predicted future occurrence of an enabled task.
type TimelineEntry struct {
	TaskID string
	RunAt  time.Time
}

// TimelineWindowCap is the maximum lookahead Timeline will compute over.
const TimelineWindowCap = 168 * time.Hour

// Timeline computes, for every enabled task, its next occurrences within
// window (capped at TimelineWindowCap), up to perTaskLimit per task.
func (s *Scheduler) Timeline(window time.Duration, perTaskLimit int) []TimelineEntry {
	if window > TimelineWindowCap {
		window = TimelineWindowCap
	}
	if perTaskLimit <= 0 {
		perTaskLimit = 1
	}
	now := s.now()
	deadline := now.Add(window)

	var entries []TimelineEntry
	for _, task := range s.Tasks() {
		if !task.Enabled {
			continue
		}
		schedule, err := cronParser.Parse(task.CronExpr)
		if err != nil {
			continue
		}
		from := now
		for i := 0; i < perTaskLimit; i++ {
			next := schedule.Next(from)
			if next.IsZero() || next.After(deadline) {
				break
			}
			entries = append(entries, TimelineEntry{TaskID: task.ID, RunAt: next})
			from = next
		}
	}
	return entries
}

// Activity returns a copy of the capped activity ring, most recent last.
func (s *Scheduler) Activity() []ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEntry, len(s.activity))
	copy(out, s.activity)
	return out
}

func (s *Scheduler) recordActivity(entry ActivityEntry) {
	s.activity = append(s.activity, entry)
	if len(s.activity) > ActivityRingSize {
		s.activity = s.activity[len(s.activity)-ActivityRingSize:]
	}
}

// Start begins the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

// IsRunning reports whether the tick loop is currently active.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// RunTaskNow dispatches task id immediately, bypassing its cron match,
// cooldown gate, and chance roll. Used by on-demand "run this task" requests.
func (s *Scheduler) RunTaskNow(ctx context.Context, id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return sapphireerr.NewNotFound("task %q not found", id)
	}
	s.runTask(ctx, task, s.now())
	return nil
}

// RunDue evaluates every registered task against the current tick and runs
// those that match, pass their cooldown gate, and survive their chance
// roll. Exposed directly so tests can drive one tick deterministically.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		matched, err := matchesCurrentMinute(task.CronExpr, now)
		if err != nil {
			s.log.Warn("invalid continuity cron expression", "task", task.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}

		if task.CooldownMinutes > 0 && !task.LastRun.IsZero() {
			if now.Sub(task.LastRun) < time.Duration(task.CooldownMinutes)*time.Minute {
				continue
			}
		}

		roll := s.rollFunc()
		if task.Chance < 100 && roll > task.Chance {
			s.mu.Lock()
			s.recordActivity(ActivityEntry{TaskID: task.ID, Kind: ActivitySkipped, Timestamp: now, Detail: fmt.Sprintf("roll %d > chance %d", roll, task.Chance)})
			s.mu.Unlock()
			if s.bus != nil {
				s.bus.Publish(eventbus.ContinuityTaskSkipped, map[string]any{"task_id": task.ID})
			}
			continue
		}

		s.runTask(ctx, task, now)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task *Task, now time.Time) {
	if s.bus != nil {
		s.bus.Publish(eventbus.ContinuityTaskStarting, map[string]any{"task_id": task.ID})
	}
	s.mu.Lock()
	s.recordActivity(ActivityEntry{TaskID: task.ID, Kind: ActivityStarting, Timestamp: now})
	s.mu.Unlock()

	var err error
	if task.ChatTarget == "" {
		err = s.executor.RunEphemeral(ctx, task)
	} else {
		err = s.executor.RunForeground(ctx, task)
	}

	task.LastRun = now

	s.mu.Lock()
	if err != nil {
		s.recordActivity(ActivityEntry{TaskID: task.ID, Kind: ActivityError, Timestamp: now, Detail: err.Error()})
	} else {
		s.recordActivity(ActivityEntry{TaskID: task.ID, Kind: ActivityComplete, Timestamp: now})
	}
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	if err != nil {
		s.bus.Publish(eventbus.ContinuityTaskError, map[string]any{"task_id": task.ID, "error": err.Error()})
	} else {
		s.bus.Publish(eventbus.ContinuityTaskComplete, map[string]any{"task_id": task.ID})
	}
}
