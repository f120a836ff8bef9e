package stateengine

import (
	"fmt"
	"strconv"
)

// checkBounds applies min/max/adjacent/options in order, returning a
// refusal message on the first violated rule.
func checkBounds(c Constraints, valueType ValueType, newValue string, existing *Value) (string, bool) {
	if (c.Min != nil || c.Max != nil || c.Adjacent != nil) && valueType == TypeNumber {
		n, err := strconv.ParseFloat(newValue, 64)
		if err != nil {
			return "value must be numeric", false
		}
		if c.Min != nil && n < *c.Min {
			return fmt.Sprintf("value %v is below minimum %v", n, *c.Min), false
		}
		if c.Max != nil && n > *c.Max {
			return fmt.Sprintf("value %v is above maximum %v", n, *c.Max), false
		}
		if c.Adjacent != nil && existing != nil {
			cur, err := strconv.ParseFloat(existing.Value, 64)
			if err == nil {
				delta := n - cur
				if delta < 0 {
					delta = -delta
				}
				if delta > *c.Adjacent {
					return fmt.Sprintf("value %v is more than %v away from current value %v", n, *c.Adjacent, cur), false
				}
			}
		}
	}
	if len(c.Options) > 0 {
		found := false
		for _, o := range c.Options {
			if o == newValue {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("value %q is not one of the allowed options", newValue), false
		}
	}
	return "", true
}

// checkBlockers evaluates each blocker rule against the attempted
// transition, given a lookup of the chat's other current values.
func checkBlockers(c Constraints, oldValue, newValue string, lookup func(key string) (string, bool)) (string, bool) {
	for _, b := range c.Blockers {
		applies := false
		for _, t := range b.Target {
			if t == newValue {
				applies = true
				break
			}
		}
		if !applies {
			for _, f := range b.From {
				if f == oldValue {
					applies = true
					break
				}
			}
		}
		if !applies {
			continue
		}
		for reqKey, reqValue := range b.Requires {
			actual, ok := lookup(reqKey)
			if !ok || actual != reqValue {
				msg := b.Message
				if msg == "" {
					msg = fmt.Sprintf("blocked: %s must be %s", reqKey, reqValue)
				}
				return msg, false
			}
		}
	}
	return "", true
}

// inferValueType classifies a freshly-introduced key's value.
func inferValueType(raw string) ValueType {
	if raw == "true" || raw == "false" {
		return TypeBool
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return TypeNumber
	}
	return TypeString
}
