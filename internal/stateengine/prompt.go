package stateengine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// segmentKey is one parsed "<base-key>?cond1,cond2,..." prompt segment key.
type segmentKey struct {
	raw        string
	baseKey    string
	conditions []condition
}

// condition is one parsed "k op v" clause; a bare "k" is (key: k, op: "=",
// value: "true").
type condition struct {
	key   string
	op    string
	value string
}

var conditionOps = []string{">=", "<=", "!=", "=", ">", "<"}

func parseSegmentKey(raw string) segmentKey {
	base, condPart, hasCond := strings.Cut(raw, "?")
	sk := segmentKey{raw: raw, baseKey: base}
	if !hasCond {
		return sk
	}
	for _, clause := range strings.Split(condPart, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		sk.conditions = append(sk.conditions, parseCondition(clause))
	}
	return sk
}

func parseCondition(clause string) condition {
	for _, op := range conditionOps {
		if idx := strings.Index(clause, op); idx >= 0 {
			return condition{key: strings.TrimSpace(clause[:idx]), op: op, value: strings.TrimSpace(clause[idx+len(op):])}
		}
	}
	return condition{key: strings.TrimSpace(clause), op: "=", value: "true"}
}

// evaluate reports whether c holds given a variable lookup (returning ("",
// false) for an unset key).
func (c condition) evaluate(lookup func(key string) (string, bool)) bool {
	actual, ok := lookup(c.key)
	if !ok {
		return false
	}
	an, aerr := strconv.ParseFloat(actual, 64)
	vn, verr := strconv.ParseFloat(c.value, 64)
	if aerr == nil && verr == nil {
		switch c.op {
		case "=":
			return an == vn
		case "!=":
			return an != vn
		case ">":
			return an > vn
		case "<":
			return an < vn
		case ">=":
			return an >= vn
		case "<=":
			return an <= vn
		}
	}
	switch c.op {
	case "=":
		return actual == c.value
	case "!=":
		return actual != c.value
	default:
		return false
	}
}

func (sk segmentKey) matches(lookup func(key string) (string, bool)) bool {
	for _, c := range sk.conditions {
		if !c.evaluate(lookup) {
			return false
		}
	}
	return true
}

// buildPromptLocked assembles the progressive prompt for the active chat at
// turnNumber. Caller must hold e.mu.
func (e *Engine) buildPromptLocked(turnNumber int) string {
	preset := e.activePreset
	if preset == nil {
		return ""
	}
	chat := e.cache[e.activeChat]

	lookup := func(key string) (string, bool) {
		if key == "scene_turns" {
			return strconv.Itoa(turnNumber - e.sceneEnteredAtLocked()), true
		}
		v, ok := chat[key]
		if !ok {
			return "", false
		}
		return v.Value, true
	}

	iteratorValue, hasIterator := lookup(preset.Iterator)

	parsed := make([]segmentKey, 0, len(preset.Segments))
	for raw := range preset.Segments {
		parsed = append(parsed, parseSegmentKey(raw))
	}

	byBase := make(map[string][]segmentKey)
	for _, sk := range parsed {
		byBase[sk.baseKey] = append(byBase[sk.baseKey], sk)
	}

	var baseKeysInScope []string
	numericIterator, parseErr := strconv.ParseFloat(iteratorValue, 64)
	for base := range byBase {
		if !hasIterator {
			baseKeysInScope = append(baseKeysInScope, base)
			continue
		}
		if parseErr == nil {
			baseNum, err := strconv.ParseFloat(base, 64)
			if err != nil {
				continue
			}
			switch preset.Mode {
			case ModeCurrentOnly:
				if baseNum == numericIterator {
					baseKeysInScope = append(baseKeysInScope, base)
				}
			default: // cumulative
				if baseNum <= numericIterator {
					baseKeysInScope = append(baseKeysInScope, base)
				}
			}
		} else {
			if base == iteratorValue {
				baseKeysInScope = append(baseKeysInScope, base)
			}
		}
	}
	sort.Slice(baseKeysInScope, func(i, j int) bool {
		ni, erri := strconv.ParseFloat(baseKeysInScope[i], 64)
		nj, errj := strconv.ParseFloat(baseKeysInScope[j], 64)
		if erri == nil && errj == nil {
			return ni < nj
		}
		return baseKeysInScope[i] < baseKeysInScope[j]
	})

	var sections []string
	sections = append(sections, baseInstructions)
	if preset.Base != "" {
		sections = append(sections, preset.Base)
	}

	for _, base := range baseKeysInScope {
		variants := byBase[base]
		sort.Slice(variants, func(i, j int) bool {
			return len(variants[i].conditions) < len(variants[j].conditions) || (len(variants[i].conditions) == len(variants[j].conditions) && variants[i].raw < variants[j].raw)
		})
		for _, sk := range variants {
			if !sk.matches(lookup) {
				continue
			}
			if text, ok := preset.Segments[sk.raw]; ok {
				sections = append(sections, text)
			}
		}
	}

	if e.choiceMgr != nil {
		if pending := e.choiceMgr.Pending(); len(pending) > 0 {
			var names []string
			for _, c := range pending {
				names = append(names, fmt.Sprintf("%s: %s", c.ID, c.Prompt))
			}
			sections = append(sections, "Pending choices: "+strings.Join(names, "; "))
		}
	}

	if len(e.riddleCfgs) > 0 {
		var unsolved []string
		for id := range e.riddleCfgs {
			if chat[riddleSolvedKey(id)].Value != "true" {
				unsolved = append(unsolved, id)
			}
		}
		sort.Strings(unsolved)
		if len(unsolved) > 0 {
			sections = append(sections, "Unsolved riddles: "+strings.Join(unsolved, ", "))
		}
	}

	if e.navMap != nil && hasIterator {
		sections = append(sections, "Exits: "+e.navMap.RenderExits(iteratorValue, e.visited))
	}

	return strings.Join(sections, "\n\n")
}

const baseInstructions = "The following state table reflects the current scene. Use get_state/set_state and the other state tools to read and update it; do not narrate state changes the model itself did not make."

// BuildSystemPrompt implements chatorchestrator.SystemPromptBuilder.
func (e *Engine) BuildSystemPrompt(turnNumber int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buildPromptLocked(turnNumber), nil
}

// ContextBlock renders the progressive prompt from buildPromptLocked followed
// by a "Current state:" line listing every visible key=value pair. No code in
// the module calls it.
func (e *Engine) ContextBlock(turnNumber int) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var parts []string
	parts = append(parts, e.buildPromptLocked(turnNumber))
	parts = append(parts, "Current state: "+e.getStateLocked("", turnNumber))
	return strings.Join(parts, "\n\n")
}
