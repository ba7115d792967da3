package protocol

import (
	"encoding/json"
	"fmt"
)

// EnvelopeType discriminates relay messages.
type EnvelopeType string

const (
	EnvelopeTask      EnvelopeType = "task"
	EnvelopeResponse  EnvelopeType = "response"
	EnvelopeStream    EnvelopeType = "stream"
	EnvelopeStreamEnd EnvelopeType = "stream_end"
	EnvelopeError     EnvelopeType = "error"
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
)

// Envelope is the unit exchanged over the relay connection. ID correlates a
// task with every message produced for it.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    EnvelopeType    `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a typed envelope. A nil payload is omitted.
func NewEnvelope(id string, typ EnvelopeType, payload any) (Envelope, error) {
	env := Envelope{ID: id, Type: typ}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = data
	return env, nil
}

// ErrorEnvelope wraps a protocol error for the task identified by id.
func ErrorEnvelope(id string, err *Error) Envelope {
	detail := err.Body().Error
	data, _ := json.Marshal(detail)
	return Envelope{ID: id, Type: EnvelopeError, Payload: data}
}
