// Package factory builds the engine registry described by configuration.
package factory

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"orchardgrid/internal/config"
	"orchardgrid/internal/engine"
	"orchardgrid/internal/engine/echo"
	"orchardgrid/internal/engine/openai"
)

const (
	defaultHTTPTimeout     = 5 * time.Minute
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredEngines constructs the configured engine and registers
// every configured model and alias against it.
func RegisterConfiguredEngines(cfg config.Config, registry *engine.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("initialise %s engine: %w", cfg.Engine.Kind, err)
	}

	models := make([]engine.Model, 0, len(cfg.Models))
	aliases := make(map[string]string)
	for _, m := range cfg.Models {
		models = append(models, engine.Model{ID: m.ID, OwnedBy: m.OwnedBy})
		for _, alias := range m.Aliases {
			aliases[alias] = m.ID
		}
	}

	if err := registry.Register(eng, models, aliases); err != nil {
		return fmt.Errorf("register %s engine: %w", cfg.Engine.Kind, err)
	}
	return nil
}

func newEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Kind {
	case config.EngineEcho:
		return echo.New(echo.Options{Name: config.EngineEcho, TokenDelay: cfg.TokenDelay.Std()}), nil
	case config.EngineOpenAI:
		return openai.New(config.EngineOpenAI, openai.Config{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: newHTTPClient(defaultHTTPTimeout),
		})
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
