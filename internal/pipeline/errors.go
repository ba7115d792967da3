package pipeline

import (
	"context"
	"errors"
	"strings"

	"orchardgrid/internal/engine"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/schema"
)

const contextWindowMessage = "The conversation is too long for the model's context window. Start a new conversation or shorten the messages and try again."

// mapError converts pipeline, compiler and engine failures into protocol
// errors.
func mapError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}

	var cerr *schema.CompileError
	if errors.As(err, &cerr) {
		return &protocol.Error{Kind: protocol.KindBadRequest, Message: cerr.Error(), Code: string(cerr.Kind)}
	}

	var eerr *engine.Error
	if errors.As(err, &eerr) {
		switch eerr.Kind {
		case engine.ErrModelUnavailable:
			return &protocol.Error{Kind: protocol.KindServiceUnavailable, Message: eerr.Message, Code: string(eerr.Kind)}
		case engine.ErrInvalidRequest:
			return &protocol.Error{Kind: protocol.KindBadRequest, Message: eerr.Message, Code: string(eerr.Kind)}
		default:
			if mentionsContextWindow(eerr.Error()) {
				return &protocol.Error{Kind: protocol.KindBadRequest, Message: contextWindowMessage, Code: "context_length_exceeded"}
			}
			return &protocol.Error{Kind: protocol.KindInternal, Message: eerr.Message, Code: string(eerr.Kind)}
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &protocol.Error{Kind: protocol.KindInternal, Message: "request cancelled", Code: "cancelled"}
	}

	return protocol.Internal("inference failed")
}

func mentionsContextWindow(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "context window") || strings.Contains(msg, "context length") || strings.Contains(msg, "exceeded context")
}
