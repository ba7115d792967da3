package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EngineEcho   = "echo"
	EngineOpenAI = "openai"

	defaultModelID = "orchardgrid-local"
)

// Environment variables that override file values.
const (
	EnvGatewayPort   = "ORCHARDGRID_GATEWAY_PORT"
	EnvRelayURL      = "ORCHARDGRID_RELAY_URL"
	EnvRelayIdentity = "ORCHARDGRID_RELAY_IDENTITY"
	EnvEngineAPIKey  = "ORCHARDGRID_ENGINE_API_KEY"
	EnvEngineBaseURL = "ORCHARDGRID_ENGINE_BASE_URL"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Log             LogConfig     `yaml:"log"`
	Gateway         GatewayConfig `yaml:"gateway"`
	Relay           RelayConfig   `yaml:"relay"`
	Status          StatusConfig  `yaml:"status"`
	Engine          EngineConfig  `yaml:"engine"`
	Models          []ModelConfig `yaml:"models"`
	SchemaCacheSize int           `yaml:"schema_cache_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig defines the local listener.
type GatewayConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	MaxConnections int    `yaml:"max_connections"`
}

// RelayConfig describes the outbound relay connection and the identity it
// presents.
type RelayConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URL               string   `yaml:"url"`
	Identity          string   `yaml:"identity"`
	DeviceID          string   `yaml:"device_id"`
	DeviceName        string   `yaml:"device_name"`
	Platform          string   `yaml:"platform"`
	OSVersion         string   `yaml:"os_version"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	// ProbeAddress is dialed to decide reachability; defaults to the relay
	// host.
	ProbeAddress  string   `yaml:"probe_address"`
	ProbeInterval Duration `yaml:"probe_interval"`
}

// StatusConfig controls the read-only status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EngineConfig selects and configures the inference engine.
type EngineConfig struct {
	Kind         string   `yaml:"kind"`
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Model        string   `yaml:"model"`
	Instructions string   `yaml:"instructions"`
	TokenDelay   Duration `yaml:"token_delay"`
}

// ModelConfig describes a model exposed to clients.
type ModelConfig struct {
	ID      string   `yaml:"id"`
	OwnedBy string   `yaml:"owned_by"`
	Aliases []string `yaml:"aliases"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when the file leaves values unset.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads YAML configuration from disk, applies .env and environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	if err := godotenv.Load(filepath.Join(filepath.Dir(absPath), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills in defaults without validating.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "0.0.0.0"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8888
	}
	if c.Gateway.MaxBodyBytes == 0 {
		c.Gateway.MaxBodyBytes = 1 << 20
	}

	if c.Relay.HeartbeatInterval == 0 {
		c.Relay.HeartbeatInterval = Duration(15 * time.Second)
	}
	if c.Relay.ConnectTimeout == 0 {
		c.Relay.ConnectTimeout = Duration(30 * time.Second)
	}
	if c.Relay.ProbeInterval == 0 {
		c.Relay.ProbeInterval = Duration(10 * time.Second)
	}
	if c.Relay.Platform == "" {
		c.Relay.Platform = runtime.GOOS
	}
	if c.Relay.DeviceName == "" || c.Relay.DeviceID == "" {
		host, _ := os.Hostname()
		if c.Relay.DeviceName == "" {
			c.Relay.DeviceName = host
		}
		if c.Relay.DeviceID == "" {
			c.Relay.DeviceID = host
		}
	}

	if c.Status.Host == "" {
		c.Status.Host = "127.0.0.1"
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8889
	}

	if c.Engine.Kind == "" {
		c.Engine.Kind = EngineEcho
	}
	if len(c.Models) == 0 {
		c.Models = []ModelConfig{{ID: defaultModelID}}
	}
	if c.SchemaCacheSize == 0 {
		c.SchemaCacheSize = 64
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvGatewayPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGatewayPort, err)
		}
		c.Gateway.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvRelayURL)); v != "" {
		c.Relay.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvRelayIdentity)); v != "" {
		c.Relay.Identity = v
	}
	if v := strings.TrimSpace(getenv(EnvEngineAPIKey)); v != "" {
		c.Engine.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvEngineBaseURL)); v != "" {
		c.Engine.BaseURL = v
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}

	if err := validatePort("gateway.port", c.Gateway.Port); err != nil {
		return err
	}
	if c.Gateway.MaxBodyBytes < 0 {
		return fmt.Errorf("gateway.max_body_bytes must not be negative, got %d", c.Gateway.MaxBodyBytes)
	}
	if c.Gateway.MaxConnections < 0 {
		return fmt.Errorf("gateway.max_connections must not be negative, got %d", c.Gateway.MaxConnections)
	}

	if c.Relay.Enabled {
		if err := c.Relay.validate(); err != nil {
			return err
		}
	}

	if c.Status.Enabled {
		if err := validatePort("status.port", c.Status.Port); err != nil {
			return err
		}
		if c.Status.Port == c.Gateway.Port {
			return fmt.Errorf("status.port must differ from gateway.port (%d)", c.Gateway.Port)
		}
	}

	if err := c.Engine.validate(); err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, model := range c.Models {
		if strings.TrimSpace(model.ID) == "" {
			return errors.New("models: model id must not be empty")
		}
		names := append([]string{model.ID}, model.Aliases...)
		for _, name := range names {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("models: alias of %q must not be empty", model.ID)
			}
			if _, dup := seen[name]; dup {
				return fmt.Errorf("models: %q is declared more than once", name)
			}
			seen[name] = struct{}{}
		}
	}

	if c.SchemaCacheSize < 0 {
		return fmt.Errorf("schema_cache_size must not be negative, got %d", c.SchemaCacheSize)
	}
	return nil
}

func (r RelayConfig) validate() error {
	if strings.TrimSpace(r.Identity) == "" {
		return errors.New("relay.identity must be provided when the relay is enabled")
	}
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("relay.url %q must be a ws:// or wss:// URL", r.URL)
	}
	if r.HeartbeatInterval <= 0 || r.ConnectTimeout <= 0 || r.ProbeInterval <= 0 {
		return errors.New("relay durations must be positive")
	}
	if r.ProbeAddress != "" {
		if _, _, err := net.SplitHostPort(r.ProbeAddress); err != nil {
			return fmt.Errorf("relay.probe_address: %w", err)
		}
	}
	return nil
}

// ProbeTarget returns the address used for reachability probes.
func (r RelayConfig) ProbeTarget() string {
	if r.ProbeAddress != "" {
		return r.ProbeAddress
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "wss" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func (e EngineConfig) validate() error {
	switch e.Kind {
	case EngineEcho:
		if e.TokenDelay < 0 {
			return errors.New("engine.token_delay must not be negative")
		}
	case EngineOpenAI:
		if strings.TrimSpace(e.BaseURL) == "" {
			return errors.New("engine.base_url must be provided for the openai engine")
		}
		if strings.TrimSpace(e.Model) == "" {
			return errors.New("engine.model must be provided for the openai engine")
		}
	default:
		return fmt.Errorf("engine.kind %q must be one of %q or %q", e.Kind, EngineEcho, EngineOpenAI)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be a valid TCP port, got %d", field, port)
	}
	return nil
}
