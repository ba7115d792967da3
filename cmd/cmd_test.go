package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchardgrid/internal/config"
	"orchardgrid/internal/engine"
	"orchardgrid/internal/engine/factory"
	"orchardgrid/internal/pipeline"
)

func TestExecuteVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, execute(context.Background(), []string{"version"}, &stdout, &stderr))
	assert.Equal(t, "orchardgrid dev\n", stdout.String())
}

func TestExecuteHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, execute(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "serve")
	assert.Contains(t, stdout.String(), "version")
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, execute(context.Background(), []string{"frobnicate"}, &stdout, &stderr))
}

func TestServeRequiresConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Error(t, execute(context.Background(), []string{"serve"}, &stdout, &stderr))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"k":"v"`)

	_, err = newLogger(config.LogConfig{Level: "verbose"}, &buf)
	assert.Error(t, err)
}

func TestStartupBannerListsModels(t *testing.T) {
	cfg := config.Default()
	reg := engine.NewRegistry()
	require.NoError(t, factory.RegisterConfiguredEngines(cfg, reg))
	svc, err := pipeline.New(reg, pipeline.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	printStartupBanner(&buf, cfg, svc)
	assert.Contains(t, buf.String(), "http://127.0.0.1:8888")
	assert.Contains(t, buf.String(), cfg.Models[0].ID)
}

func TestBuildFailsBeforeStartingAnything(t *testing.T) {
	cfg := config.Default()
	reg := engine.NewRegistry()
	require.NoError(t, factory.RegisterConfiguredEngines(cfg, reg))
	svc, err := pipeline.New(reg, pipeline.Options{})
	require.NoError(t, err)

	cfg.Relay.Enabled = true
	cfg.Relay.URL = "https://relay.example/ws"
	cfg.Relay.Identity = "user-1"

	app, err := build(cfg, svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Nil(t, app)
	assert.Contains(t, err.Error(), "relay")
}

func TestBuildWiresEnabledComponents(t *testing.T) {
	cfg := config.Default()
	reg := engine.NewRegistry()
	require.NoError(t, factory.RegisterConfiguredEngines(cfg, reg))
	svc, err := pipeline.New(reg, pipeline.Options{})
	require.NoError(t, err)

	cfg.Relay.Enabled = false
	cfg.Status.Enabled = true

	app, err := build(cfg, svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NotNil(t, app.gateway)
	assert.Nil(t, app.relay)
	assert.NotNil(t, app.status)
}
