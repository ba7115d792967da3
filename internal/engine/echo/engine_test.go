package echo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchardgrid/internal/engine"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/schema"
)

func TestStreamEndsWithRespondContent(t *testing.T) {
	e := New(Options{})
	p := engine.Prompt{Turn: "Hello there,  friend"}

	full, err := e.Respond(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "You said: Hello there,  friend", full)

	var snapshots []string
	for s, err := range e.StreamResponse(context.Background(), p) {
		require.NoError(t, err)
		snapshots = append(snapshots, s)
	}
	require.NotEmpty(t, snapshots)
	assert.Equal(t, full, snapshots[len(snapshots)-1])
	for i := 1; i < len(snapshots); i++ {
		assert.True(t, strings.HasPrefix(snapshots[i], snapshots[i-1]))
		assert.Greater(t, len(snapshots[i]), len(snapshots[i-1]))
	}
}

func TestStructuredReply(t *testing.T) {
	compiled, err := schema.Compile(protocol.SchemaSpec{Name: "Mood", Schema: &protocol.SchemaNode{
		Type:       "object",
		Properties: map[string]*protocol.SchemaNode{"mood": {Type: "string", Enum: []string{"happy", "sad"}}},
		Required:   []string{"mood"},
	}})
	require.NoError(t, err)

	out, err := New(Options{}).Respond(context.Background(), engine.Prompt{Turn: "how do you feel", Schema: compiled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mood":"happy"}`, out)
}

func TestStreamHonoursCancellation(t *testing.T) {
	e := New(Options{TokenDelay: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	var streamErr error
	for s, err := range e.StreamResponse(ctx, engine.Prompt{Turn: "one two three four five six"}) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, s)
		cancel()
	}
	assert.Len(t, got, 1)
	assert.ErrorIs(t, streamErr, context.Canceled)
}

func TestAvailabilityAndMaxTokens(t *testing.T) {
	assert.False(t, New(Options{Unavailable: "warming up"}).Availability(context.Background()).Available)

	limit := 2
	out, err := New(Options{}).Respond(context.Background(), engine.Prompt{Turn: "a b c", Options: engine.Options{MaxTokens: &limit}})
	require.NoError(t, err)
	assert.Equal(t, "You said:", out)
}
