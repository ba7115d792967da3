package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles accepted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response format types.
const (
	FormatText       = "text"
	FormatJSONSchema = "json_schema"
	FormatJSONObject = "json_object"
)

// ChatRequest models the OpenAI chat/completions request payload.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat selects plain text or schema-constrained output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *SchemaSpec `json:"json_schema,omitempty"`
}

// SchemaSpec names a structured-output schema.
type SchemaSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Strict      bool        `json:"strict"`
	Schema      *SchemaNode `json:"schema"`
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("content segment type %q is not supported", segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("unsupported message content structure")
}

// DecodeChatRequest parses and validates a request body.
func DecodeChatRequest(body []byte) (ChatRequest, error) {
	var req ChatRequest
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, BadRequest("request body is required")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, BadRequest("invalid JSON payload: %v", err)
	}
	req.Model = strings.TrimSpace(req.Model)
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// Validate enforces the conversation invariants every completion depends on.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return BadRequest("messages must contain at least one message")
	}

	lastTurn := -1
	hasUser := false
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			hasUser = true
		case RoleAssistant:
		default:
			return BadRequest("messages[%d]: invalid role %q", i, msg.Role)
		}
		lastTurn = i
	}

	if !hasUser {
		return BadRequest("messages must include at least one user message")
	}
	if r.Messages[lastTurn].Role != RoleUser {
		return BadRequest("the last non-system message must have role %q", RoleUser)
	}
	if strings.TrimSpace(r.Messages[lastTurn].Content) == "" {
		return BadRequest("the last user message must not be empty")
	}

	if r.ResponseFormat != nil {
		switch r.ResponseFormat.Type {
		case "", FormatText:
		case FormatJSONSchema:
			if r.ResponseFormat.JSONSchema == nil || r.ResponseFormat.JSONSchema.Schema == nil {
				return BadRequest("response_format.json_schema.schema is required")
			}
		case FormatJSONObject:
			return BadRequest("response_format %q requires a schema; use %q", FormatJSONObject, FormatJSONSchema)
		default:
			return BadRequest("unsupported response_format type %q", r.ResponseFormat.Type)
		}
	}
	return nil
}

// StructuredSchema returns the requested output schema, if any.
func (r ChatRequest) StructuredSchema() *SchemaSpec {
	if r.ResponseFormat == nil || r.ResponseFormat.Type != FormatJSONSchema {
		return nil
	}
	return r.ResponseFormat.JSONSchema
}

// Summary renders a short single-line description for observability.
func (r ChatRequest) Summary() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return truncate(r.Messages[i].Content, 200)
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
