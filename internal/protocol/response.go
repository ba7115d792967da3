package protocol

// Finish reasons reported on the last choice of a completion.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// ChatResponse models the OpenAI-compatible chat response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage mirrors the token usage block in OpenAI responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one server-sent event of a streamed completion.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the incremental delta of a streamed choice.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the content added since the previous chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// NewResponse builds a single-choice, finished completion.
func NewResponse(id string, created int64, model, content string, usage Usage) ChatResponse {
	return ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: RoleAssistant, Content: content},
			FinishReason: FinishStop,
		}},
		Usage: usage,
	}
}

// NewChunk builds a single-choice stream chunk. An empty finishReason is
// encoded as null.
func NewChunk(id string, created int64, model string, delta Delta, finishReason string) StreamChunk {
	choice := StreamChoice{Index: 0, Delta: delta}
	if finishReason != "" {
		reason := finishReason
		choice.FinishReason = &reason
	}
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []StreamChoice{choice},
	}
}

// ModelList is the payload of GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// ModelCard describes one served model.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// NewModelList wraps cards in the list envelope.
func NewModelList(cards []ModelCard) ModelList {
	if cards == nil {
		cards = []ModelCard{}
	}
	return ModelList{Object: "list", Data: cards}
}
