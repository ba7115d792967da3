// Package transcript assembles the conversation context handed to an engine.
package transcript

import (
	"strings"

	"orchardgrid/internal/protocol"
)

// DefaultInstructions is used when a conversation carries no system message.
const DefaultInstructions = "You are a helpful assistant."

// EntryKind tags a transcript entry.
type EntryKind int

const (
	Instructions EntryKind = iota
	User
	Assistant
)

func (k EntryKind) String() string {
	switch k {
	case Instructions:
		return "instructions"
	case User:
		return "user"
	case Assistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Entry is one turn of the transcript.
type Entry struct {
	Kind    EntryKind
	Content string
}

// Transcript is an instructions entry followed by user/assistant turns in
// their original order.
type Transcript struct {
	Entries []Entry
}

// Build produces the transcript for messages. The first system message
// becomes the instructions; later system messages are dropped.
func Build(messages []protocol.ChatMessage, defaultInstructions string) Transcript {
	instructions := defaultInstructions
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	for _, m := range messages {
		if m.Role == protocol.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				instructions = m.Content
			}
			break
		}
	}

	entries := make([]Entry, 0, len(messages)+1)
	entries = append(entries, Entry{Kind: Instructions, Content: instructions})
	for _, m := range messages {
		switch m.Role {
		case protocol.RoleUser:
			entries = append(entries, Entry{Kind: User, Content: m.Content})
		case protocol.RoleAssistant:
			entries = append(entries, Entry{Kind: Assistant, Content: m.Content})
		}
	}
	return Transcript{Entries: entries}
}

// Split validates messages and separates the history from the driving user
// turn, which is the last non-system message.
func Split(messages []protocol.ChatMessage, defaultInstructions string) (Transcript, string, error) {
	if err := (protocol.ChatRequest{Messages: messages}).Validate(); err != nil {
		return Transcript{}, "", err
	}

	full := Build(messages, defaultInstructions)
	last := len(full.Entries) - 1
	turn := full.Entries[last].Content
	full.Entries = full.Entries[:last]
	return full, turn, nil
}

// Instructions returns the instructions entry content.
func (t Transcript) Instructions() string {
	if len(t.Entries) == 0 || t.Entries[0].Kind != Instructions {
		return ""
	}
	return t.Entries[0].Content
}

// Turns returns every entry after the instructions.
func (t Transcript) Turns() []Entry {
	if len(t.Entries) == 0 {
		return nil
	}
	if t.Entries[0].Kind == Instructions {
		return t.Entries[1:]
	}
	return t.Entries
}

// Text renders the transcript as plain text, one "kind: content" line per entry.
func (t Transcript) Text() string {
	var b strings.Builder
	for i, e := range t.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}
