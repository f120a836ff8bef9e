package stateengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sapphire-ai/sapphire/internal/tools"
)

// StateToolNames is the fixed set of tools the state engine claims ahead of
// the ordinary ToolRegistry, per the get_state/set_state/roll_dice/
// increment_counter/move/make_choice/attempt_riddle contract.
var StateToolNames = []string{"get_state", "set_state", "roll_dice", "increment_counter", "move", "make_choice", "attempt_riddle"}

// IsStateTool implements chatorchestrator.StateToolExecutor.
func (e *Engine) IsStateTool(name string) bool {
	for _, n := range StateToolNames {
		if n == name {
			return true
		}
	}
	return false
}

type getStateArgs struct {
	Key string `json:"key"`
}

type setStateArgs struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

type rollDiceArgs struct {
	Count int `json:"count"`
	Sides int `json:"sides"`
}

type incrementCounterArgs struct {
	Key    string   `json:"key"`
	Amount *float64 `json:"amount"`
	Reason string   `json:"reason"`
}

type moveArgs struct {
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
}

type makeChoiceArgs struct {
	ChoiceID string `json:"choice_id"`
	Option   string `json:"option"`
	Reason   string `json:"reason"`
}

type attemptRiddleArgs struct {
	RiddleID string `json:"riddle_id"`
	Answer   string `json:"answer"`
}

// ExecuteStateTool implements chatorchestrator.StateToolExecutor.
func (e *Engine) ExecuteStateTool(ctx context.Context, turnNumber int, name string, args json.RawMessage) (tools.Result, error) {
	switch name {
	case "get_state":
		var a getStateArgs
		_ = json.Unmarshal(args, &a)
		return tools.Result{Content: e.GetState(a.Key, turnNumber), Success: true}, nil

	case "set_state":
		var a setStateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed set_state arguments", Success: false}, nil
		}
		ok, msg, err := e.SetState(ctx, a.Key, a.Value, "ai", turnNumber, a.Reason)
		if err != nil {
			return tools.Result{}, err
		}
		if !ok {
			return tools.Result{Content: msg, Success: false}, nil
		}
		if msg == "" {
			msg = fmt.Sprintf("%s set to %s", a.Key, a.Value)
		}
		return tools.Result{Content: msg, Success: true}, nil

	case "roll_dice":
		var a rollDiceArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed roll_dice arguments", Success: false}, nil
		}
		rolls, err := e.RollDice(ctx, a.Count, a.Sides, turnNumber)
		if err != nil {
			return tools.Result{Content: err.Error(), Success: false}, nil
		}
		strs := make([]string, len(rolls))
		for i, r := range rolls {
			strs[i] = fmt.Sprintf("%d", r)
		}
		return tools.Result{Content: strings.Join(strs, ", "), Success: true}, nil

	case "increment_counter":
		var a incrementCounterArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed increment_counter arguments", Success: false}, nil
		}
		amount := 1.0
		if a.Amount != nil {
			amount = *a.Amount
		}
		ok, msg, err := e.IncrementCounter(ctx, a.Key, amount, "ai", turnNumber, a.Reason)
		if err != nil {
			return tools.Result{}, err
		}
		if !ok {
			return tools.Result{Content: msg, Success: false}, nil
		}
		return tools.Result{Content: msg, Success: true}, nil

	case "move":
		var a moveArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed move arguments", Success: false}, nil
		}
		dest, err := e.Move(ctx, a.Direction, turnNumber, a.Reason)
		if err != nil {
			return tools.Result{Content: err.Error(), Success: false}, nil
		}
		return tools.Result{Content: "moved to " + dest, Success: true}, nil

	case "make_choice":
		var a makeChoiceArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed make_choice arguments", Success: false}, nil
		}
		msg, err := e.MakeChoice(ctx, a.ChoiceID, a.Option, turnNumber, a.Reason)
		if err != nil {
			return tools.Result{Content: err.Error(), Success: false}, nil
		}
		return tools.Result{Content: msg, Success: true}, nil

	case "attempt_riddle":
		var a attemptRiddleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return tools.Result{Content: "malformed attempt_riddle arguments", Success: false}, nil
		}
		msg, err := e.AttemptRiddle(ctx, a.RiddleID, a.Answer, turnNumber)
		if err != nil {
			return tools.Result{Content: err.Error(), Success: false}, nil
		}
		return tools.Result{Content: msg, Success: true}, nil

	default:
		return tools.Result{Content: "unknown state tool: " + name, Success: false}, nil
	}
}

// Descriptors returns the tool descriptors for the fixed state-tool set, for
// registration into the ToolRegistry so the LLM sees their schemas.
func Descriptors() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "get_state", Description: "Reads one state key, or the full visible state table if no key is given.", Schema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}}}`)},
		{Name: "set_state", Description: "Writes a state key, subject to declared constraints.", Schema: json.RawMessage(`{"type":"object","required":["key","value"],"properties":{"key":{"type":"string"},"value":{"type":"string"},"reason":{"type":"string"}}}`)},
		{Name: "roll_dice", Description: "Rolls count dice with the given number of sides.", Schema: json.RawMessage(`{"type":"object","required":["count","sides"],"properties":{"count":{"type":"integer","minimum":1,"maximum":20},"sides":{"type":"integer","minimum":2,"maximum":100}}}`)},
		{Name: "increment_counter", Description: "Adds amount (default 1) to a numeric state key, clamping to its constraints.", Schema: json.RawMessage(`{"type":"object","required":["key"],"properties":{"key":{"type":"string"},"amount":{"type":"number"},"reason":{"type":"string"}}}`)},
		{Name: "move", Description: "Moves in a direction, when navigation is configured.", Schema: json.RawMessage(`{"type":"object","required":["direction"],"properties":{"direction":{"type":"string"},"reason":{"type":"string"}}}`)},
		{Name: "make_choice", Description: "Resolves a pending choice.", Schema: json.RawMessage(`{"type":"object","required":["choice_id","option"],"properties":{"choice_id":{"type":"string"},"option":{"type":"string"},"reason":{"type":"string"}}}`)},
		{Name: "attempt_riddle", Description: "Attempts a riddle's answer.", Schema: json.RawMessage(`{"type":"object","required":["riddle_id","answer"],"properties":{"riddle_id":{"type":"string"},"answer":{"type":"string"}}}`)},
	}
}
