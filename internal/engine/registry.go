package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownModel indicates the requested model is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// Model identifies a served model.
type Model struct {
	ID      string
	OwnedBy string
	Created int64
}

type modelEntry struct {
	model  Model
	engine Engine
}

// Registry maps model IDs and aliases to engines. The first registered model
// is the default for requests that do not name one.
type Registry struct {
	mu     sync.RWMutex
	models map[string]modelEntry
	order  []string
	byName map[string]Engine
}

// NewRegistry constructs an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]modelEntry),
		byName: make(map[string]Engine),
	}
}

// Register adds an engine serving models, wiring optional aliases.
func (r *Registry) Register(e Engine, models []Model, aliases map[string]string) error {
	if e == nil {
		return errors.New("engine must not be nil")
	}
	if len(models) == 0 {
		return fmt.Errorf("engine %q must serve at least one model", e.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[e.Name()]; exists {
		return fmt.Errorf("engine %q already registered", e.Name())
	}
	r.byName[e.Name()] = e

	now := time.Now().Unix()
	for _, model := range models {
		if _, exists := r.models[model.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, model.ID)
		}
		if model.Created == 0 {
			model.Created = now
		}
		if model.OwnedBy == "" {
			model.OwnedBy = "orchardgrid"
		}
		r.models[model.ID] = modelEntry{model: model, engine: e}
		r.order = append(r.order, model.ID)
	}

	for alias, target := range aliases {
		if _, exists := r.models[alias]; exists {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		targetEntry, ok := r.models[target]
		if !ok {
			return fmt.Errorf("alias %q references unknown model %q", alias, target)
		}
		r.models[alias] = targetEntry
	}

	return nil
}

// Lookup returns the engine and metadata for a model ID or alias. An empty
// ID selects the default model.
func (r *Registry) Lookup(modelID string) (Model, Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if modelID == "" {
		if len(r.order) == 0 {
			return Model{}, nil, fmt.Errorf("%w: no models registered", ErrUnknownModel)
		}
		modelID = r.order[0]
	}

	entry, ok := r.models[modelID]
	if !ok {
		return Model{}, nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return entry.model, entry.engine, nil
}

// Models lists registered models (aliases excluded) in registration order.
func (r *Registry) Models() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Model, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id].model)
	}
	return out
}
