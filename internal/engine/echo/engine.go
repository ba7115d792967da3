// Package echo provides a deterministic engine for development and tests. It
// replies with the user's turn and, for structured output, with the smallest
// value the schema accepts.
package echo

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"time"
	"unicode"

	"orchardgrid/internal/engine"
)

// Options configure the echo engine.
type Options struct {
	Name string
	// TokenDelay is slept between streamed tokens.
	TokenDelay time.Duration
	// Unavailable, when set, makes the engine report itself unavailable.
	Unavailable string
}

// Engine implements engine.Engine without a model.
type Engine struct {
	name        string
	tokenDelay  time.Duration
	unavailable string
}

var _ engine.Engine = (*Engine)(nil)

// New constructs an echo engine.
func New(opts Options) *Engine {
	name := opts.Name
	if name == "" {
		name = "echo"
	}
	return &Engine{name: name, tokenDelay: opts.TokenDelay, unavailable: opts.Unavailable}
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Availability(context.Context) engine.Availability {
	if e.unavailable != "" {
		return engine.Unavailable(e.unavailable)
	}
	return engine.Available()
}

func (e *Engine) Respond(ctx context.Context, p engine.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.reply(p)
}

func (e *Engine) StreamResponse(ctx context.Context, p engine.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		full, err := e.reply(p)
		if err != nil {
			yield("", err)
			return
		}

		var timer *time.Timer
		if e.tokenDelay > 0 {
			timer = time.NewTimer(e.tokenDelay)
			defer timer.Stop()
		}

		for _, end := range tokenBoundaries(full) {
			if timer != nil {
				timer.Reset(e.tokenDelay)
				select {
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(full[:end], nil) {
				return
			}
		}
	}
}

func (e *Engine) reply(p engine.Prompt) (string, error) {
	if p.Schema != nil {
		data, err := json.Marshal(p.Schema.Example())
		if err != nil {
			return "", engine.NewError(engine.ErrProcessingFailed, err, "encode structured reply")
		}
		return string(data), nil
	}
	if strings.TrimSpace(p.Turn) == "" {
		return "", engine.NewError(engine.ErrInvalidRequest, nil, "empty prompt")
	}

	reply := "You said: " + p.Turn
	if p.Options.MaxTokens != nil && *p.Options.MaxTokens > 0 {
		bounds := tokenBoundaries(reply)
		if len(bounds) > *p.Options.MaxTokens {
			reply = reply[:bounds[*p.Options.MaxTokens-1]]
		}
	}
	return reply, nil
}

// tokenBoundaries returns the end offsets of whitespace-led words in s, so
// that s[:b] for consecutive b grows one word at a time.
func tokenBoundaries(s string) []int {
	var bounds []int
	inWord := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				bounds = append(bounds, i)
			}
			inWord = false
			continue
		}
		inWord = true
	}
	if len(s) > 0 && (len(bounds) == 0 || bounds[len(bounds)-1] != len(s)) {
		bounds = append(bounds, len(s))
	}
	return bounds
}
