package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"orchardgrid/internal/config"
	"orchardgrid/internal/engine"
	"orchardgrid/internal/engine/factory"
	"orchardgrid/internal/gateway"
	"orchardgrid/internal/netwatch"
	"orchardgrid/internal/pipeline"
	"orchardgrid/internal/relay"
	"orchardgrid/internal/server"
	"orchardgrid/internal/stats"
)

func serve(ctx context.Context, opts serveCmd) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}

	if opts.Port != 0 {
		if opts.Port < 0 || opts.Port > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", opts.Port)
		}
		cfg.Gateway.Port = opts.Port
	}
	if opts.NoRelay {
		cfg.Relay.Enabled = false
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	registry := engine.NewRegistry()
	if err := factory.RegisterConfiguredEngines(cfg, registry); err != nil {
		return err
	}

	svc, err := pipeline.New(registry, pipeline.Options{
		Instructions:    cfg.Engine.Instructions,
		SchemaCacheSize: cfg.SchemaCacheSize,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	app, err := build(cfg, svc, logger)
	if err != nil {
		return err
	}
	printStartupBanner(os.Stdout, cfg, svc)
	return app.run(ctx)
}

// components are the long-running parts of serve. Every one is constructed
// before any of them starts.
type components struct {
	gateway *gateway.Gateway
	relay   *relay.Client
	status  *server.Server
}

func build(cfg config.Config, svc *pipeline.Service, logger *slog.Logger) (*components, error) {
	recorder := stats.NewRecorder()

	gw, err := gateway.New(svc, gateway.Options{
		Host:           cfg.Gateway.Host,
		Port:           cfg.Gateway.Port,
		MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
		MaxConnections: cfg.Gateway.MaxConnections,
		Stats:          recorder,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	app := &components{gateway: gw}

	var relayState server.RelayState
	if cfg.Relay.Enabled {
		client, err := relay.New(svc, relay.Options{
			URL: cfg.Relay.URL,
			Identity: relay.Identity{
				DeviceID:   cfg.Relay.DeviceID,
				DeviceName: cfg.Relay.DeviceName,
				Platform:   cfg.Relay.Platform,
				OSVersion:  cfg.Relay.OSVersion,
				UserID:     cfg.Relay.Identity,
			},
			HeartbeatInterval: cfg.Relay.HeartbeatInterval.Std(),
			ConnectTimeout:    cfg.Relay.ConnectTimeout.Std(),
			Reachability:      netwatch.New(cfg.Relay.ProbeTarget(), cfg.Relay.ProbeInterval.Std(), logger),
			Stats:             recorder,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
		app.relay = client
		relayState = client
	}

	if cfg.Status.Enabled {
		srv, err := server.New(server.Options{
			Host:     cfg.Status.Host,
			Port:     cfg.Status.Port,
			Pipeline: svc,
			Stats:    recorder,
			Relay:    relayState,
			Gateway:  net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
			Version:  Version,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("status server: %w", err)
		}
		app.status = srv
	}
	return app, nil
}

func (a *components) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.gateway.Run(ctx) })
	if a.relay != nil {
		a.relay.Enable()
		g.Go(func() error { return a.relay.Run(ctx) })
	}
	if a.status != nil {
		g.Go(func() error { return a.status.Run(ctx) })
	}
	return g.Wait()
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format %q must be text or json", cfg.Format)
	}
}

func printStartupBanner(w io.Writer, cfg config.Config, svc *pipeline.Service) {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "orchardgrid %s ready\n", Version)
	fmt.Fprintf(w, "Listening on http://%s:%d\n", host, cfg.Gateway.Port)
	fmt.Fprintln(w, "Endpoints:")
	fmt.Fprintln(w, "  GET  /v1/models")
	fmt.Fprintln(w, "  POST /v1/chat/completions")
	fmt.Fprintln(w, "Models:")
	for _, m := range svc.Models() {
		fmt.Fprintf(w, "  %s\n", m.ID)
	}
	if cfg.Relay.Enabled {
		fmt.Fprintf(w, "Relay: %s as %s\n", cfg.Relay.URL, cfg.Relay.DeviceName)
	}
	if cfg.Status.Enabled {
		fmt.Fprintf(w, "Status: http://%s:%d/status\n", cfg.Status.Host, cfg.Status.Port)
	}
	fmt.Fprintf(w, "Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, cfg.Gateway.Port)
}
