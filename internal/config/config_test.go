package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
  format: json
gateway:
  port: 9000
  max_connections: 16
relay:
  enabled: true
  url: wss://relay.example.com/connect
  identity: user-42
  device_name: studio
  heartbeat_interval: 5s
status:
  enabled: true
  port: 9001
engine:
  kind: openai
  base_url: http://127.0.0.1:11434/v1
  model: llama3.2
models:
  - id: llama-local
    aliases: [gpt-4o-mini]
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.EqualValues(t, 1<<20, cfg.Gateway.MaxBodyBytes)
	assert.Equal(t, 5*time.Second, cfg.Relay.HeartbeatInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.Relay.ConnectTimeout.Std())
	assert.Equal(t, "studio", cfg.Relay.DeviceName)
	assert.NotEmpty(t, cfg.Relay.Platform)
	assert.Equal(t, "relay.example.com:443", cfg.Relay.ProbeTarget())
	assert.Equal(t, []ModelConfig{{ID: "llama-local", Aliases: []string{"gpt-4o-mini"}}}, cfg.Models)
	assert.Equal(t, 64, cfg.SchemaCacheSize)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, EngineEcho, cfg.Engine.Kind)
	assert.Equal(t, defaultModelID, cfg.Models[0].ID)
	assert.False(t, cfg.Relay.Enabled)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad log level":         func(c *Config) { c.Log.Level = "loud" },
		"bad port":              func(c *Config) { c.Gateway.Port = 70000 },
		"relay without id":      func(c *Config) { c.Relay.Enabled, c.Relay.URL = true, "wss://relay.example.com" },
		"relay http url":        func(c *Config) { c.Relay.Enabled, c.Relay.Identity, c.Relay.URL = true, "u", "https://relay.example.com" },
		"status port clash":     func(c *Config) { c.Status.Enabled, c.Status.Port = true, c.Gateway.Port },
		"unknown engine":        func(c *Config) { c.Engine.Kind = "mlx" },
		"openai without url":    func(c *Config) { c.Engine.Kind, c.Engine.Model = EngineOpenAI, "m" },
		"duplicate alias":       func(c *Config) { c.Models = []ModelConfig{{ID: "a"}, {ID: "b", Aliases: []string{"a"}}} },
		"empty model id":        func(c *Config) { c.Models = []ModelConfig{{ID: " "}} },
		"negative cache size":   func(c *Config) { c.SchemaCacheSize = -1 },
		"bad probe address":     func(c *Config) { c.Relay.Enabled, c.Relay.Identity, c.Relay.URL, c.Relay.ProbeAddress = true, "u", "ws://r", "nohost" },
		"negative token delay":  func(c *Config) { c.Engine.TokenDelay = Duration(-time.Second) },
		"negative max body":     func(c *Config) { c.Gateway.MaxBodyBytes = -1 },
		"negative max conns":    func(c *Config) { c.Gateway.MaxConnections = -1 },
		"unknown log format":    func(c *Config) { c.Log.Format = "xml" },
		"openai without model":  func(c *Config) { c.Engine.Kind, c.Engine.BaseURL = EngineOpenAI, "http://x" },
		"status port too large": func(c *Config) { c.Status.Enabled, c.Status.Port = true, 1 << 17 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("relay:\n  heartbeat_interval: soon\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvGatewayPort:   "7000",
		EnvRelayURL:      "ws://relay.local:8080/ws",
		EnvRelayIdentity: "user-7",
		EnvEngineAPIKey:  "secret",
		EnvEngineBaseURL: "http://runtime:8000/v1",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, 7000, cfg.Gateway.Port)
	assert.Equal(t, "ws://relay.local:8080/ws", cfg.Relay.URL)
	assert.Equal(t, "relay.local:8080", cfg.Relay.ProbeTarget())
	assert.Equal(t, "user-7", cfg.Relay.Identity)
	assert.Equal(t, "secret", cfg.Engine.APIKey)
	assert.Equal(t, "http://runtime:8000/v1", cfg.Engine.BaseURL)

	env[EnvGatewayPort] = "eighty"
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchardgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  kind: openai\n  base_url: http://127.0.0.1:8080/v1\n  model: qwen\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvEngineAPIKey+"=from-dotenv\n"), 0o600))
	os.Unsetenv(EnvEngineAPIKey)
	t.Cleanup(func() { os.Unsetenv(EnvEngineAPIKey) })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Engine.APIKey)
	assert.Equal(t, "qwen", cfg.Engine.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
