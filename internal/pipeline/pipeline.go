// Package pipeline is the request path shared by the gateway and the relay
// client: conversation assembly, schema compilation, the engine call and
// stream chunking.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"orchardgrid/internal/delta"
	"orchardgrid/internal/engine"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/schema"
	"orchardgrid/internal/transcript"
)

const defaultSchemaCacheSize = 64

// Options configure a Service.
type Options struct {
	// Instructions replace the default system prompt when a request has none.
	Instructions    string
	SchemaCacheSize int
	Logger          *slog.Logger
}

// Service dispatches chat requests to the engine serving the requested model.
type Service struct {
	registry     *engine.Registry
	instructions string
	schemas      *lru.Cache[string, *schema.Compiled]
	tokens       tokenCounter
	log          *slog.Logger
	now          func() time.Time
}

// New constructs a pipeline backed by the provided registry.
func New(registry *engine.Registry, opts Options) (*Service, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}

	size := opts.SchemaCacheSize
	if size <= 0 {
		size = defaultSchemaCacheSize
	}
	cache, err := lru.New[string, *schema.Compiled](size)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		registry:     registry,
		instructions: opts.Instructions,
		schemas:      cache,
		tokens:       newTokenCounter(logger),
		log:          logger,
		now:          time.Now,
	}, nil
}

// Models lists the served models in wire form.
func (s *Service) Models() []protocol.ModelCard {
	models := s.registry.Models()
	cards := make([]protocol.ModelCard, 0, len(models))
	for _, m := range models {
		cards = append(cards, protocol.ModelCard{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
	}
	return cards
}

// Call is a validated request bound to an engine, ready to run once.
type Call struct {
	svc     *Service
	id      string
	created int64
	model   engine.Model
	engine  engine.Engine
	prompt  engine.Prompt
	stream  bool
	content string
}

// Prepare validates req, resolves its engine and builds the prompt. Every
// error it returns is a *protocol.Error.
func (s *Service) Prepare(ctx context.Context, req protocol.ChatRequest) (*Call, error) {
	if err := req.Validate(); err != nil {
		return nil, mapError(err)
	}

	model, eng, err := s.registry.Lookup(req.Model)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownModel) {
			return nil, &protocol.Error{Kind: protocol.KindBadRequest, Message: err.Error(), Code: "model_not_found"}
		}
		return nil, mapError(err)
	}

	if avail := eng.Availability(ctx); !avail.Available {
		reason := avail.Reason
		if reason == "" {
			reason = "model is not available"
		}
		return nil, &protocol.Error{Kind: protocol.KindServiceUnavailable, Message: reason, Code: string(engine.ErrModelUnavailable)}
	}

	history, turn, err := transcript.Split(req.Messages, s.instructions)
	if err != nil {
		return nil, mapError(err)
	}

	var compiled *schema.Compiled
	if spec := req.StructuredSchema(); spec != nil {
		compiled, err = s.compile(*spec)
		if err != nil {
			return nil, mapError(err)
		}
	}

	return &Call{
		svc:     s,
		id:      "chatcmpl-" + uuid.NewString(),
		created: s.now().Unix(),
		model:   model,
		engine:  eng,
		stream:  req.Stream,
		prompt: engine.Prompt{
			Transcript: history,
			Turn:       turn,
			Schema:     compiled,
			Options: engine.Options{
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			},
		},
	}, nil
}

func (s *Service) compile(spec protocol.SchemaSpec) (*schema.Compiled, error) {
	key, err := json.Marshal(spec)
	if err != nil {
		return nil, protocol.BadRequest("encode schema: %v", err)
	}
	if compiled, ok := s.schemas.Get(string(key)); ok {
		return compiled, nil
	}

	compiled, err := schema.Compile(spec)
	if err != nil {
		return nil, err
	}
	s.schemas.Add(string(key), compiled)
	s.log.Debug("compiled schema", "name", compiled.Name, "definitions", len(compiled.Dependencies))
	return compiled, nil
}

// ID is the completion identifier shared by the response and every chunk.
func (c *Call) ID() string {
	return c.id
}

// Streaming reports whether the request asked for a streamed reply.
func (c *Call) Streaming() bool {
	return c.stream
}

// Content returns the text produced so far.
func (c *Call) Content() string {
	return c.content
}

// Complete runs the request as a single response.
func (c *Call) Complete(ctx context.Context) (*protocol.ChatResponse, error) {
	content, err := c.engine.Respond(ctx, c.prompt)
	if err != nil {
		return nil, mapError(err)
	}
	c.content = content

	usage := c.usage(content)
	resp := protocol.NewResponse(c.id, c.created, c.model.ID, content, usage)
	return &resp, nil
}

// Stream runs the request and hands each chunk to sink: an initial empty
// chunk, one chunk per new piece of content, and a terminal chunk whose
// finish reason is "stop" on success or "error" otherwise. Output produced
// before a failure or cancellation is delivered before the terminal chunk.
// An error from sink aborts the stream and is returned as is.
func (c *Call) Stream(ctx context.Context, sink func(protocol.StreamChunk) error) error {
	emit := func(d protocol.Delta, finish string) error {
		return sink(protocol.NewChunk(c.id, c.created, c.model.ID, d, finish))
	}

	if err := emit(protocol.Delta{Role: protocol.RoleAssistant}, ""); err != nil {
		return err
	}

	var content strings.Builder
	for d, err := range delta.Deltas(c.engine.StreamResponse(ctx, c.prompt)) {
		if err != nil {
			c.content = content.String()
			_ = emit(protocol.Delta{}, protocol.FinishError)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return mapError(err)
		}
		content.WriteString(d)
		if err := emit(protocol.Delta{Content: d}, ""); err != nil {
			c.content = content.String()
			return err
		}
	}
	c.content = content.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = emit(protocol.Delta{}, protocol.FinishError)
		return ctxErr
	}
	return emit(protocol.Delta{}, protocol.FinishStop)
}

func (c *Call) usage(content string) protocol.Usage {
	promptText := c.prompt.Transcript.Text() + "\n" + c.prompt.Turn
	promptTokens := c.svc.tokens.Count(promptText)
	completionTokens := c.svc.tokens.Count(content)
	return protocol.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
