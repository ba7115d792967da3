// Package gateway serves the OpenAI-compatible chat API on the local network
// over raw TCP. Each connection carries exactly one request.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"orchardgrid/internal/pipeline"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/stats"
)

const (
	defaultMaxBodyBytes = 1 << 20 // 1 MiB
	readTimeout         = 30 * time.Second
)

// Options configure a Gateway.
type Options struct {
	Host string
	Port int
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	// MaxConnections limits concurrently served connections; 0 means no limit.
	MaxConnections int
	Stats          *stats.Recorder
	Logger         *slog.Logger
}

// Gateway accepts connections and routes requests to the pipeline.
type Gateway struct {
	svc     *pipeline.Service
	address string
	maxBody int64
	maxConn int
	stats   *stats.Recorder
	log     *slog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New constructs a gateway bound to svc.
func New(svc *pipeline.Service, opts Options) (*Gateway, error) {
	if svc == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid gateway port %d", opts.Port)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		svc:     svc,
		address: net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		maxBody: maxBody,
		maxConn: opts.MaxConnections,
		stats:   opts.Stats,
		log:     logger.With("component", "gateway"),
	}, nil
}

// Addr returns the bound listener address once Run has started listening.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Run listens on the configured address and serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.address, err)
	}
	return g.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, then closes ln
// and waits for in-flight connections to finish.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if g.maxConn > 0 {
		ln = netutil.LimitListener(ln, g.maxConn)
	}

	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()
	g.log.Info("gateway listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				g.log.Info("gateway stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				g.log.Warn("accept failed", "err", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			g.serveConn(ctx, conn)
		}()
	}
}

func (g *Gateway) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("request panicked", "conn", remote, "panic", r, "stack", string(debug.Stack()))
			perr := protocol.Internal("inference failed")
			g.stats.RecordError(perr.Message)
			_ = writeError(conn, perr)
		}
	}()
	_ = conn.SetReadDeadline(start.Add(readTimeout))

	req, err := readRequest(bufio.NewReaderSize(conn, maxHeaderBytes), g.maxBody)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		var perr *protocol.Error
		if !errors.As(err, &perr) {
			g.log.Debug("read request failed", "conn", remote, "err", err)
			return
		}
		_ = writeError(conn, perr)
		g.logRequest(remote, "", "", perr.Status(), start, perr)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	status, err := g.route(ctx, conn, req)
	g.logRequest(remote, req.Method, req.Path, status, start, err)
}

func (g *Gateway) logRequest(remote, method, path string, status int, start time.Time, err error) {
	attrs := []any{
		"conn", remote,
		"method", method,
		"uri", path,
		"status", status,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	g.log.Info("request", attrs...)
}
