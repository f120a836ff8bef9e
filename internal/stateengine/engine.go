package stateengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/choices"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/navigation"
	"github.com/sapphire-ai/sapphire/internal/stateengine/features/riddles"
)

// Engine is the StateEngine: per-chat typed state plus the optional
// choices/riddles/navigation features and progressive prompt assembly.
// Reads are served from an in-memory cache invalidated by ReloadFromDB; one
// Engine instance tracks a single active chat at a time, mirroring
// sessions.Manager's active-chat pattern.
type Engine struct {
	mu      sync.Mutex
	store   *Store
	cache   map[string]map[string]Value // chatName -> key -> Value
	presets map[string]*Preset
	now     func() time.Time
	log     *slog.Logger
	rollSrc *rand.Rand

	activeChat   string
	activePreset *Preset
	choiceMgr    *choices.Manager
	riddleCfgs   map[string]riddles.Config
	navMap       navigation.Map
	visited      map[string]bool
}

// New builds an Engine over store, with no presets registered.
func New(store *Store) *Engine {
	return &Engine{
		store:   store,
		cache:   make(map[string]map[string]Value),
		presets: make(map[string]*Preset),
		now:     time.Now,
		log:     slog.Default().With("component", "stateengine"),
		rollSrc: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RegisterPreset makes preset available by name for SetActiveChat.
func (e *Engine) RegisterPreset(preset *Preset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.presets[preset.Name] = preset
}

// SetActiveChat loads chatName's cached state (from the store, if not
// already cached) and, if presetName is non-empty, activates its preset's
// features for the current session.
func (e *Engine) SetActiveChat(ctx context.Context, chatName, presetName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.cache[chatName]; !ok {
		loaded, err := e.store.LoadChat(ctx, chatName)
		if err != nil {
			return fmt.Errorf("load chat state: %w", err)
		}
		e.cache[chatName] = loaded
	}
	e.activeChat = chatName

	if presetName == "" {
		e.activePreset = nil
		e.choiceMgr = nil
		e.riddleCfgs = nil
		e.navMap = nil
		e.visited = nil
		return nil
	}

	preset, ok := e.presets[presetName]
	if !ok {
		return sapphireerr.NewNotFound("preset %q is not registered", presetName)
	}
	e.activePreset = preset
	e.choiceMgr = choices.NewManager(preset.Choices)
	for _, c := range preset.Choices {
		if existing, ok := e.cache[chatName][c.TargetKey]; ok && existing.Value != "" {
			e.choiceMgr.MarkResolved(c.ID)
		}
	}
	e.riddleCfgs = make(map[string]riddles.Config, len(preset.Riddles))
	for _, r := range preset.Riddles {
		e.riddleCfgs[r.ID] = r
		if _, ok := e.cache[chatName][riddleHashKey(r.ID)]; !ok {
			e.seedRiddleLocked(chatName, r)
		}
	}
	e.navMap = preset.Connections
	e.visited = e.loadVisitedLocked(chatName)
	return nil
}

func (e *Engine) seedRiddleLocked(chatName string, cfg riddles.Config) {
	answer := riddles.Answer(chatName, cfg)
	hash := riddles.HashAnswer(answer)
	now := e.now()
	v := Value{ChatName: chatName, Key: riddleHashKey(cfg.ID), Value: hash, ValueType: TypeString, UpdatedAt: now, UpdatedBy: "system", TurnNumber: 0}
	e.cache[chatName][v.Key] = v
	_ = e.store.AppendAndUpsert(context.Background(), v, nil, "riddle seed")
}

func (e *Engine) loadVisitedLocked(chatName string) map[string]bool {
	out := make(map[string]bool)
	v, ok := e.cache[chatName][keyVisitedRooms]
	if !ok {
		return out
	}
	var rooms []string
	_ = json.Unmarshal([]byte(v.Value), &rooms)
	for _, r := range rooms {
		out[r] = true
	}
	return out
}

// ReloadFromDB discards the in-memory cache for chatName, forcing the next
// access to re-read from the store.
func (e *Engine) ReloadFromDB(ctx context.Context, chatName string) error {
	e.mu.Lock()
	delete(e.cache, chatName)
	e.mu.Unlock()
	if e.activeChat == chatName {
		return e.SetActiveChat(ctx, chatName, e.presetNameLocked())
	}
	return nil
}

func (e *Engine) presetNameLocked() string {
	if e.activePreset == nil {
		return ""
	}
	return e.activePreset.Name
}

// SetState is the core validated write described by the set_state tool
// contract. success=false with a nil error means the write was refused for
// a business reason (bad constraint, reserved key, blocker); a non-nil
// error means no chat is active or an infrastructure failure occurred.
func (e *Engine) SetState(ctx context.Context, key, rawValue, changedBy string, turnNumber int, reason string) (bool, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if changedBy == "ai" && isSystemKey(key) {
		return false, "cannot write to reserved key " + key, nil
	}

	chat := e.cache[e.activeChat]
	if chat == nil {
		return false, "", sapphireerr.NewInput("no active chat")
	}

	existing, existed := chat[key]
	valueType := existing.ValueType
	constraints := existing.Constraints
	if !existed {
		valueType = inferValueType(rawValue)
		if e.activePreset != nil {
			if declared, ok := e.activePreset.Variables[key]; ok {
				constraints = declared
			}
		}
	}

	if msg, ok := checkBounds(constraints, valueType, rawValue, orNil(existed, existing)); !ok {
		return false, msg, nil
	}
	oldVal := ""
	if existed {
		oldVal = existing.Value
	}
	if msg, ok := checkBlockers(constraints, oldVal, rawValue, func(k string) (string, bool) {
		v, ok := chat[k]
		return v.Value, ok
	}); !ok {
		return false, msg, nil
	}

	if e.activePreset != nil && key == e.activePreset.Iterator && oldVal != rawValue && e.choiceMgr != nil {
		if blocking, ok := e.choiceMgr.BlockingScene(rawValue); ok {
			return false, fmt.Sprintf("choice %q must be resolved first: %s", blocking.ID, blocking.Prompt), nil
		}
	}

	now := e.now()
	v := Value{
		ChatName: e.activeChat, Key: key, Value: rawValue, ValueType: valueType,
		Label: existing.Label, Constraints: constraints, UpdatedAt: now, UpdatedBy: changedBy, TurnNumber: turnNumber,
	}
	var oldPtr *string
	if existed {
		oldPtr = &existing.Value
	}
	if err := e.store.AppendAndUpsert(ctx, v, oldPtr, reason); err != nil {
		return false, "", err
	}
	chat[key] = v

	if e.activePreset != nil && key == e.activePreset.Iterator && oldVal != rawValue {
		e.writeSystemKeyLocked(ctx, keySceneEnteredAt, strconv.Itoa(turnNumber), turnNumber)
	}

	if !existed {
		return true, fmt.Sprintf("created new key %q; visible keys: %s", key, strings.Join(e.visibleKeysLocked(turnNumber), ", ")), nil
	}
	return true, "", nil
}

// writeSystemKeyLocked bypasses validation for internally-maintained keys.
// Caller must hold e.mu.
func (e *Engine) writeSystemKeyLocked(ctx context.Context, key, value string, turnNumber int) {
	chat := e.cache[e.activeChat]
	existing, existed := chat[key]
	var oldPtr *string
	if existed {
		oldPtr = &existing.Value
	}
	v := Value{ChatName: e.activeChat, Key: key, Value: value, ValueType: inferValueType(value), UpdatedAt: e.now(), UpdatedBy: "system", TurnNumber: turnNumber}
	if err := e.store.AppendAndUpsert(ctx, v, oldPtr, "system"); err != nil {
		e.log.Warn("failed to persist system key", "key", key, "error", err)
		return
	}
	chat[key] = v
}

func orNil(existed bool, v Value) *Value {
	if !existed {
		return nil
	}
	return &v
}

// visibleKeysLocked lists non-system keys visible at turnNumber, honoring
// visible_from. Caller must hold e.mu.
func (e *Engine) visibleKeysLocked(turnNumber int) []string {
	chat := e.cache[e.activeChat]
	var out []string
	for k, v := range chat {
		if isSystemKey(k) {
			continue
		}
		if v.Constraints.VisibleFrom != nil && float64(turnNumber) < *v.Constraints.VisibleFrom {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetState implements the get_state tool: a single key's value, or the
// full visible state.
func (e *Engine) GetState(key string, turnNumber int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getStateLocked(key, turnNumber)
}

// getStateLocked is GetState's body; caller must hold e.mu.
func (e *Engine) getStateLocked(key string, turnNumber int) string {
	chat := e.cache[e.activeChat]
	if key != "" {
		if key == "scene_turns" {
			return strconv.Itoa(turnNumber - e.sceneEnteredAtLocked())
		}
		v, ok := chat[key]
		if !ok {
			return fmt.Sprintf("key %q is not set", key)
		}
		if v.Constraints.VisibleFrom != nil && float64(turnNumber) < *v.Constraints.VisibleFrom {
			return fmt.Sprintf("key %q is not set", key)
		}
		return v.Value
	}

	keys := e.visibleKeysLocked(turnNumber)
	if len(keys) == 0 {
		return "no visible state"
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, chat[k].Value))
	}
	return strings.Join(parts, ", ")
}

func (e *Engine) sceneEnteredAtLocked() int {
	chat := e.cache[e.activeChat]
	v, ok := chat[keySceneEnteredAt]
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v.Value)
	return n
}

// RollDice implements roll_dice: count uniform rolls of an N-sided die,
// logging the result as _last_roll.
func (e *Engine) RollDice(ctx context.Context, count, sides, turnNumber int) ([]int, error) {
	if count < 1 || count > 20 {
		return nil, sapphireerr.NewValidation("count must be between 1 and 20")
	}
	if sides < 2 || sides > 100 {
		return nil, sapphireerr.NewValidation("sides must be between 2 and 100")
	}
	e.mu.Lock()
	rolls := make([]int, count)
	for i := range rolls {
		rolls[i] = e.rollSrc.Intn(sides) + 1
	}
	total := 0
	for _, r := range rolls {
		total += r
	}
	e.writeSystemKeyLocked(ctx, keyLastRoll, strconv.Itoa(total), turnNumber)
	e.mu.Unlock()
	return rolls, nil
}

// IncrementCounter implements increment_counter: a numeric-only set_state
// that adds amount to the key's current value (default 0), clamping to its
// declared constraints and reporting when clamped.
func (e *Engine) IncrementCounter(ctx context.Context, key string, amount float64, changedBy string, turnNumber int, reason string) (bool, string, error) {
	e.mu.Lock()
	chat := e.cache[e.activeChat]
	current := 0.0
	if v, ok := chat[key]; ok {
		parsed, err := strconv.ParseFloat(v.Value, 64)
		if err == nil {
			current = parsed
		}
	}
	next := current + amount

	clampMsg := ""
	if e.activePreset != nil {
		if c, ok := e.activePreset.Variables[key]; ok {
			if c.Max != nil && next > *c.Max {
				next = *c.Max
				clampMsg = fmt.Sprintf(" (clamped to max %v)", *c.Max)
			}
			if c.Min != nil && next < *c.Min {
				next = *c.Min
				clampMsg = fmt.Sprintf(" (clamped to min %v)", *c.Min)
			}
		}
	}
	e.mu.Unlock()

	ok, msg, err := e.SetState(ctx, key, strconv.FormatFloat(next, 'g', -1, 64), changedBy, turnNumber, reason)
	if !ok || err != nil {
		return ok, msg, err
	}
	return true, msg + clampMsg, nil
}

// Move implements the move tool: alias resolution against the active
// preset's connection graph, updating _visited_rooms on success.
func (e *Engine) Move(ctx context.Context, direction string, turnNumber int, reason string) (string, error) {
	e.mu.Lock()
	if e.activePreset == nil || e.navMap == nil {
		e.mu.Unlock()
		return "", sapphireerr.NewInput("navigation is not configured for this chat")
	}
	iterator := e.activePreset.Iterator
	chat := e.cache[e.activeChat]
	room := e.activePreset.StartRoom
	if v, ok := chat[iterator]; ok {
		room = v.Value
	}
	e.mu.Unlock()

	dest, err := e.navMap.Move(room, direction)
	if err != nil {
		return "", sapphireerr.NewInput(err.Error())
	}

	ok, msg, err := e.SetState(ctx, iterator, dest, "ai", turnNumber, reason)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sapphireerr.NewConflict("%s", msg)
	}

	e.mu.Lock()
	e.visited[dest] = true
	rooms := make([]string, 0, len(e.visited))
	for r := range e.visited {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	raw, _ := json.Marshal(rooms)
	e.writeSystemKeyLocked(ctx, keyVisitedRooms, string(raw), turnNumber)
	e.mu.Unlock()

	return dest, nil
}

// MakeChoice implements the make_choice tool.
func (e *Engine) MakeChoice(ctx context.Context, choiceID, option string, turnNumber int, reason string) (string, error) {
	e.mu.Lock()
	if e.choiceMgr == nil {
		e.mu.Unlock()
		return "", sapphireerr.NewInput("no choices are configured for this chat")
	}
	targetKey, value, err := e.choiceMgr.Resolve(choiceID, option)
	e.mu.Unlock()
	if err != nil {
		return "", sapphireerr.NewInput(err.Error())
	}

	ok, msg, err := e.SetState(ctx, targetKey, value, "ai", turnNumber, reason)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", sapphireerr.NewConflict("%s", msg)
	}
	return fmt.Sprintf("choice %q resolved to %q", choiceID, value), nil
}

// AttemptRiddle implements the attempt_riddle tool.
func (e *Engine) AttemptRiddle(ctx context.Context, riddleID, answer string, turnNumber int) (string, error) {
	e.mu.Lock()
	cfg, ok := e.riddleCfgs[riddleID]
	if !ok {
		e.mu.Unlock()
		return "", sapphireerr.NewNotFound("unknown riddle %q", riddleID)
	}
	chat := e.cache[e.activeChat]
	if chat[riddleLockedKey(riddleID)].Value == "true" {
		e.mu.Unlock()
		return "this riddle is locked", nil
	}
	if chat[riddleSolvedKey(riddleID)].Value == "true" {
		e.mu.Unlock()
		return "this riddle is already solved", nil
	}
	storedHash := chat[riddleHashKey(riddleID)].Value
	attempts, _ := strconv.Atoi(chat[riddleAttemptsKey(riddleID)].Value)
	attempts++
	e.writeSystemKeyLocked(ctx, riddleAttemptsKey(riddleID), strconv.Itoa(attempts), turnNumber)
	e.mu.Unlock()

	if riddles.CheckAttempt(storedHash, answer) {
		e.mu.Lock()
		e.writeSystemKeyLocked(ctx, riddleSolvedKey(riddleID), "true", turnNumber)
		e.mu.Unlock()
		for k, v := range cfg.SuccessSets {
			_, _, _ = e.SetState(ctx, k, v, "system", turnNumber, "riddle success")
		}
		return "correct", nil
	}

	if cfg.MaxAttempts > 0 && attempts >= cfg.MaxAttempts {
		e.mu.Lock()
		e.writeSystemKeyLocked(ctx, riddleLockedKey(riddleID), "true", turnNumber)
		e.mu.Unlock()
		for k, v := range cfg.LockoutSets {
			_, _, _ = e.SetState(ctx, k, v, "system", turnNumber, "riddle lockout")
		}
		return "incorrect; riddle is now locked", nil
	}
	if cfg.MaxAttempts > 0 {
		remaining := cfg.MaxAttempts - attempts
		return fmt.Sprintf("✗ incorrect; %d attempts remaining", remaining), nil
	}
	return "incorrect", nil
}

// RollbackToTurn truncates state_log to turn_number <= t, clears
// state_current for the chat, and replays the remaining log forward.
func (e *Engine) RollbackToTurn(ctx context.Context, t int) error {
	e.mu.Lock()
	chatName := e.activeChat
	e.mu.Unlock()

	maxTurn, err := e.store.MaxTurn(ctx, chatName)
	if err != nil {
		return err
	}
	if t >= maxTurn {
		return nil
	}

	if err := e.store.TruncateAndClear(ctx, chatName, t); err != nil {
		return err
	}

	entries, err := e.store.LogUpTo(ctx, chatName, t)
	if err != nil {
		return err
	}

	rebuilt := make(map[string]Value)
	for _, entry := range entries {
		v := Value{
			ChatName: chatName, Key: entry.Key, Value: entry.NewValue,
			ValueType: inferValueType(entry.NewValue), UpdatedAt: entry.Timestamp,
			UpdatedBy: entry.ChangedBy, TurnNumber: entry.TurnNumber,
		}
		rebuilt[entry.Key] = v
		if err := e.store.ReplaceRow(ctx, v); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.cache[chatName] = rebuilt
	e.mu.Unlock()
	return nil
}
