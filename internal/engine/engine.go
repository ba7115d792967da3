// Package engine defines the boundary to the language model that serves
// completions.
package engine

import (
	"context"
	"fmt"
	"iter"

	"orchardgrid/internal/schema"
	"orchardgrid/internal/transcript"
)

// Engine is an inference backend. StreamResponse yields cumulative
// snapshots: every value extends the previous one.
type Engine interface {
	Name() string
	Availability(ctx context.Context) Availability
	Respond(ctx context.Context, p Prompt) (string, error)
	StreamResponse(ctx context.Context, p Prompt) iter.Seq2[string, error]
}

// Prompt is everything an engine needs for one completion.
type Prompt struct {
	Transcript transcript.Transcript
	Turn       string
	Schema     *schema.Compiled
	Options    Options
}

// Options tune generation. Nil fields keep the engine's defaults.
type Options struct {
	Temperature *float64
	MaxTokens   *int
}

// Availability reports whether an engine can currently serve requests.
type Availability struct {
	Available bool
	Reason    string
}

// Available is the availability of a ready engine.
func Available() Availability {
	return Availability{Available: true}
}

// Unavailable reports a non-ready engine with a reason.
func Unavailable(reason string) Availability {
	return Availability{Reason: reason}
}

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	ErrModelUnavailable ErrorKind = "model_unavailable"
	ErrInvalidRequest   ErrorKind = "invalid_request"
	ErrProcessingFailed ErrorKind = "processing_failed"
)

// Error is returned by engines for classified failures.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified engine error.
func NewError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
