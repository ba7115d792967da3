// Package openai serves completions from an OpenAI-compatible runtime running
// next to the gateway (llama.cpp server, Ollama, LM Studio).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	gpt "github.com/sashabaranov/go-openai"

	"orchardgrid/internal/engine"
	"orchardgrid/internal/transcript"
)

const availabilityTimeout = 3 * time.Second

// Config describes how to reach the runtime.
type Config struct {
	BaseURL string
	APIKey  string
	// Model is the runtime-side model name sent upstream.
	Model string
	// HTTPClient replaces the library default when set.
	HTTPClient *http.Client
}

// Engine implements engine.Engine on top of go-openai.
type Engine struct {
	name   string
	model  string
	client *gpt.Client
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine for the runtime at cfg.BaseURL.
func New(name string, cfg Config) (*Engine, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("upstream model must not be empty")
	}

	clientCfg := gpt.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Engine{
		name:   name,
		model:  cfg.Model,
		client: gpt.NewClientWithConfig(clientCfg),
	}, nil
}

func (e *Engine) Name() string {
	return e.name
}

// Availability probes the runtime's model list.
func (e *Engine) Availability(ctx context.Context) engine.Availability {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	if _, err := e.client.ListModels(ctx); err != nil {
		return engine.Unavailable(fmt.Sprintf("runtime unreachable: %v", err))
	}
	return engine.Available()
}

func (e *Engine) Respond(ctx context.Context, p engine.Prompt) (string, error) {
	req, err := e.buildRequest(p, false)
	if err != nil {
		return "", err
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", engine.NewError(engine.ErrProcessingFailed, nil, "runtime response did not include choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamResponse accumulates upstream deltas into cumulative snapshots.
func (e *Engine) StreamResponse(ctx context.Context, p engine.Prompt) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req, err := e.buildRequest(p, true)
		if err != nil {
			yield("", err)
			return
		}

		stream, err := e.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", classify(err))
			return
		}
		defer stream.Close()

		var content strings.Builder
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield("", ctxErr)
					return
				}
				yield("", classify(err))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			content.WriteString(chunk.Choices[0].Delta.Content)
			if !yield(content.String(), nil) {
				return
			}
		}
	}
}

func (e *Engine) buildRequest(p engine.Prompt, stream bool) (gpt.ChatCompletionRequest, error) {
	instructions := p.Transcript.Instructions()
	if p.Schema != nil {
		doc, err := json.Marshal(p.Schema.JSONSchema())
		if err != nil {
			return gpt.ChatCompletionRequest{}, engine.NewError(engine.ErrInvalidRequest, err, "encode output schema")
		}
		instructions = strings.TrimSpace(instructions + "\n\nRespond only with a JSON value that conforms to this JSON Schema:\n" + string(doc))
	}

	messages := make([]gpt.ChatCompletionMessage, 0, len(p.Transcript.Entries)+1)
	if instructions != "" {
		messages = append(messages, gpt.ChatCompletionMessage{Role: gpt.ChatMessageRoleSystem, Content: instructions})
	}
	for _, entry := range p.Transcript.Turns() {
		role := gpt.ChatMessageRoleUser
		if entry.Kind == transcript.Assistant {
			role = gpt.ChatMessageRoleAssistant
		}
		messages = append(messages, gpt.ChatCompletionMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, gpt.ChatCompletionMessage{Role: gpt.ChatMessageRoleUser, Content: p.Turn})

	req := gpt.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   stream,
	}
	if p.Options.Temperature != nil {
		req.Temperature = float32(*p.Options.Temperature)
	}
	if p.Options.MaxTokens != nil {
		req.MaxTokens = *p.Options.MaxTokens
	}
	if p.Schema != nil {
		req.ResponseFormat = &gpt.ChatCompletionResponseFormat{Type: gpt.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req, nil
}

// classify maps runtime failures onto engine error kinds.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	status := 0
	message := err.Error()

	var apiErr *gpt.APIError
	var reqErr *gpt.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "context length") || strings.Contains(lower, "context window"):
		return engine.NewError(engine.ErrProcessingFailed, err, "context window exceeded")
	case status == 0 || status == http.StatusNotFound || status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		return engine.NewError(engine.ErrModelUnavailable, err, "runtime unavailable")
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return engine.NewError(engine.ErrInvalidRequest, err, "runtime rejected the request")
	default:
		return engine.NewError(engine.ErrProcessingFailed, err, "runtime request failed")
	}
}
