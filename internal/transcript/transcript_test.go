package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchardgrid/internal/protocol"
)

func msgs(pairs ...string) []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, protocol.ChatMessage{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestBuildUsesFirstSystemMessage(t *testing.T) {
	tr := Build(msgs(
		"system", "be terse",
		"user", "hi",
		"assistant", "hello",
		"system", "ignored",
		"user", "how are you",
	), "")

	assert.Equal(t, []Entry{
		{Kind: Instructions, Content: "be terse"},
		{Kind: User, Content: "hi"},
		{Kind: Assistant, Content: "hello"},
		{Kind: User, Content: "how are you"},
	}, tr.Entries)
	assert.Equal(t, "be terse", tr.Instructions())
	assert.Len(t, tr.Turns(), 3)
}

func TestBuildFallsBackToDefaultInstructions(t *testing.T) {
	assert.Equal(t, DefaultInstructions, Build(msgs("user", "x"), "").Instructions())
	assert.Equal(t, "custom", Build(msgs("user", "x"), "custom").Instructions())
	assert.Equal(t, "custom", Build(msgs("system", " ", "user", "x"), "custom").Instructions())
}

func TestSplitSeparatesDrivingTurn(t *testing.T) {
	history, turn, err := Split(msgs("user", "first", "assistant", "reply", "user", "second"), "")
	require.NoError(t, err)
	assert.Equal(t, "second", turn)
	assert.Equal(t, []Entry{
		{Kind: Instructions, Content: DefaultInstructions},
		{Kind: User, Content: "first"},
		{Kind: Assistant, Content: "reply"},
	}, history.Entries)
	assert.Equal(t, "instructions: "+DefaultInstructions+"\nuser: first\nassistant: reply", history.Text())
}

func TestSplitRejectsInvalidConversations(t *testing.T) {
	_, _, err := Split(nil, "")
	assert.Error(t, err)

	_, _, err = Split(msgs("assistant", "x"), "")
	assert.Error(t, err)

	_, _, err = Split(msgs("user", "x", "assistant", "y"), "")
	assert.Error(t, err)
}
