package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// TimeDateSchema is the JSON Schema for the built-in time_date tool's
// parameters: an optional free-form query used to decide between a time or
// date-flavored response.
var TimeDateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string"}
  },
  "additionalProperties": false
}`)

type timeDateArgs struct {
	Query string `json:"query"`
}

// NewTimeDateHandler returns the handler for the built-in time_date tool.
// now is injectable for deterministic tests.
func NewTimeDateHandler(now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return func(_ context.Context, args json.RawMessage) (Result, error) {
		var parsed timeDateArgs
		if len(args) > 0 {
			_ = json.Unmarshal(args, &parsed)
		}
		input := strings.ToLower(strings.TrimSpace(parsed.Query))
		t := now()

		if strings.Contains(input, "date") || strings.Contains(input, "day") || strings.Contains(input, "today") {
			return Result{Content: "Today is " + t.Format("Monday, January 2, 2006") + ".", Success: true}, nil
		}

		return Result{Content: "It's " + formatClock(t) + ".", Success: true}, nil
	}
}

// formatClock renders a 12-hour clock string without a leading zero on the
// hour, matching `/^\d{1,2}:\d{2} [AP]M$/`.
func formatClock(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	suffix := "AM"
	if t.Hour() >= 12 {
		suffix = "PM"
	}
	return time.Date(0, 1, 1, hour, t.Minute(), 0, 0, time.UTC).Format("3:04") + " " + suffix
}

// DescribeTimeDate returns the built-in time_date tool's descriptor.
func DescribeTimeDate() Descriptor {
	return Descriptor{
		Name:        "time_date",
		Description: "Reports the current time or date.",
		Schema:      TimeDateSchema,
		Network:     false,
		Local:       true,
		Modes:       nil,
	}
}
