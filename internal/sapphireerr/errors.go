// Package sapphireerr classifies errors raised anywhere in the orchestration
// core into the fixed taxonomy the rest of the system reacts to: InputError,
// NotFound, Conflict, ValidationError, ExternalError, Fatal.
package sapphireerr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories the orchestration core
// distinguishes between when deciding how to surface a failure.
type Kind int

const (
	// Unknown is returned by Classify for errors not wrapped with this package.
	Unknown Kind = iota
	// Input covers bad arguments, missing fields, invalid cron expressions.
	Input
	// NotFound covers unknown chats, prompts, tasks, tools.
	NotFound
	// Conflict covers name collisions and protected-resource overwrites.
	Conflict
	// Validation covers state constraint failures and blocker messages.
	Validation
	// External covers LLM network failures and tool subprocess failures.
	External
	// Fatal covers failures that mean a component must refuse to start.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Validation:
		return "validation"
	case External:
		return "external"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind to the status code an API-facade handler should use.
func (k Kind) HTTPStatus() int {
	switch k {
	case Input, Validation:
		return 400
	case NotFound:
		return 404
	case Conflict:
		return 409
	case External:
		return 502
	case Fatal:
		return 500
	default:
		return 500
	}
}

type classified struct {
	kind Kind
	msg  string
	err  error
}

func (c *classified) Error() string {
	if c.err != nil {
		return fmt.Sprintf("%s: %v", c.msg, c.err)
	}
	return c.msg
}

func (c *classified) Unwrap() error { return c.err }

// New creates an error of the given kind with a plain message.
func New(kind Kind, msg string) error {
	return &classified{kind: kind, msg: msg}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return New(kind, msg)
	}
	return &classified{kind: kind, msg: msg, err: err}
}

// Classify returns the Kind of err if it (or something it wraps) was produced
// by New/Wrap; otherwise Unknown.
func Classify(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Unknown
}

// Is reports whether err was classified with the given kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}

// Convenience constructors matching the taxonomy's named cases directly.

func NewInput(format string, args ...any) error {
	return New(Input, fmt.Sprintf(format, args...))
}

func NewNotFound(format string, args ...any) error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func NewConflict(format string, args ...any) error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

func NewValidation(format string, args ...any) error {
	return New(Validation, fmt.Sprintf(format, args...))
}

func NewExternal(err error, format string, args ...any) error {
	return Wrap(External, fmt.Sprintf(format, args...), err)
}

func NewFatal(err error, format string, args ...any) error {
	return Wrap(Fatal, fmt.Sprintf(format, args...), err)
}
