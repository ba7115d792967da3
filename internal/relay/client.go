// Package relay keeps an outbound websocket to the relay service, serves the
// tasks it delivers through the pipeline and owns the connection state
// machine.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orchardgrid/internal/netwatch"
	"orchardgrid/internal/pipeline"
	"orchardgrid/internal/stats"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultConnectTimeout    = 30 * time.Second
)

// Identity is sent as query parameters when connecting.
type Identity struct {
	DeviceID   string
	DeviceName string
	Platform   string
	OSVersion  string
	UserID     string
}

func (id Identity) query() url.Values {
	q := url.Values{}
	q.Set("device_id", id.DeviceID)
	q.Set("device_name", id.DeviceName)
	q.Set("platform", id.Platform)
	q.Set("os_version", id.OSVersion)
	q.Set("user_id", id.UserID)
	return q
}

// Reachability reports whether the relay host can be reached. The channel
// delivers the current value first and then every change.
type Reachability interface {
	Watch(ctx context.Context) <-chan bool
}

// Options configure a Client.
type Options struct {
	URL               string
	Identity          Identity
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	Backoff           Backoff
	Reachability      Reachability
	Dialer            *websocket.Dialer
	Stats             *stats.Recorder
	Logger            *slog.Logger
	// OnStateChange is called from the client goroutine after every
	// transition. It must not block.
	OnStateChange func(State)
}

type command int

const (
	cmdEnable command = iota
	cmdDisable
)

// Client is an actor: Run owns the connection and the state, Enable and
// Disable are commands sent to it.
type Client struct {
	svc       *pipeline.Service
	endpoint  string
	heartbeat time.Duration
	timeout   time.Duration
	backoff   Backoff
	reach     Reachability
	dialer    *websocket.Dialer
	stats     *stats.Recorder
	log       *slog.Logger
	onChange  func(State)
	now       func() time.Time

	cmds chan command

	mu    sync.RWMutex
	state State
}

// New validates opts and returns a disabled client.
func New(svc *pipeline.Service, opts Options) (*Client, error) {
	if svc == nil {
		return nil, errors.New("pipeline must not be nil")
	}
	if strings.TrimSpace(opts.Identity.UserID) == "" {
		return nil, errors.New("relay identity is required")
	}
	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("relay url must use ws or wss, got %q", opts.URL)
	}
	q := endpoint.Query()
	for k, v := range opts.Identity.query() {
		q[k] = v
	}
	endpoint.RawQuery = q.Encode()

	c := &Client{
		svc:       svc,
		endpoint:  endpoint.String(),
		heartbeat: opts.HeartbeatInterval,
		timeout:   opts.ConnectTimeout,
		backoff:   opts.Backoff,
		reach:     opts.Reachability,
		dialer:    opts.Dialer,
		stats:     opts.Stats,
		log:       opts.Logger,
		onChange:  opts.OnStateChange,
		now:       time.Now,
		cmds:      make(chan command, 1),
	}
	if c.heartbeat <= 0 {
		c.heartbeat = defaultHeartbeatInterval
	}
	if c.timeout <= 0 {
		c.timeout = defaultConnectTimeout
	}
	if c.backoff == (Backoff{}) {
		c.backoff = DefaultBackoff
	}
	if c.reach == nil {
		c.reach = netwatch.Always{}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "relay")
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Enable asks the client to connect. It has no effect while enabled.
func (c *Client) Enable() {
	c.send(cmdEnable)
}

// Disable closes the connection and cancels pending retries.
func (c *Client) Disable() {
	c.send(cmdDisable)
}

// send replaces any command not yet consumed; only the latest intent matters.
func (c *Client) send(cmd command) {
	for {
		select {
		case c.cmds <- cmd:
			return
		default:
		}
		select {
		case <-c.cmds:
		default:
		}
	}
}

func (c *Client) apply(ev Event) State {
	c.mu.Lock()
	next, changed := c.state.Apply(ev, c.now(), c.backoff)
	c.state = next
	c.mu.Unlock()

	if changed {
		c.log.Info("relay state changed", "state", next.String())
		if c.onChange != nil {
			c.onChange(next)
		}
	}
	return next
}

type outcome struct {
	gen int
	ev  Event
}

// Run drives the client until ctx is cancelled. Connection failures never
// end Run; they are retried with backoff.
func (c *Client) Run(ctx context.Context) error {
	reach := c.reach.Watch(ctx)
	outcomes := make(chan outcome)

	var (
		wg         sync.WaitGroup
		enabled    bool
		reachable  bool
		gen        int
		cancelConn context.CancelFunc = func() {}
		timer      *time.Timer
		retryC     <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, retryC = nil, nil
		}
	}
	stopConn := func() {
		cancelConn()
		cancelConn = func() {}
		gen++
	}
	connect := func() {
		stopTimer()
		stopConn()
		c.apply(Connect{})

		connCtx, cancel := context.WithCancel(ctx)
		cancelConn = cancel
		current := gen
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.connect(connCtx, current, outcomes)
		}()
	}
	schedule := func(delay time.Duration) {
		stopTimer()
		timer = time.NewTimer(delay)
		retryC = timer.C
	}

	defer func() {
		stopTimer()
		stopConn()
		wg.Wait()
		c.apply(Disable{})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-c.cmds:
			switch cmd {
			case cmdEnable:
				if enabled {
					continue
				}
				enabled = true
				if reachable {
					connect()
				} else {
					c.log.Info("relay enabled, waiting for network")
				}
			case cmdDisable:
				enabled = false
				stopTimer()
				stopConn()
				c.apply(Disable{})
			}

		case r, ok := <-reach:
			if !ok {
				reach = nil
				continue
			}
			if r == reachable {
				continue
			}
			reachable = r
			if !enabled {
				continue
			}
			phase := c.State().Phase
			if !r {
				c.log.Info("relay host unreachable, pausing", "state", phase.String())
				stopTimer()
				if phase == PhaseConnecting {
					stopConn()
				}
				continue
			}
			if phase != PhaseConnected {
				connect()
			}

		case o := <-outcomes:
			if o.gen != gen {
				continue
			}
			next := c.apply(o.ev)
			switch next.Phase {
			case PhaseReconnecting, PhaseFailed:
				stopConn()
				if reachable {
					schedule(time.Duration(next.Delay))
				}
			}

		case <-retryC:
			timer, retryC = nil, nil
			if enabled && reachable {
				connect()
			}
		}
	}
}

// connect dials, reports the handshake result and then runs the session until
// it ends. Nothing is reported once ctx is cancelled.
func (c *Client) connect(ctx context.Context, gen int, out chan<- outcome) {
	report := func(ev Event) bool {
		select {
		case out <- outcome{gen: gen, ev: ev}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.endpoint, nil)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if timedOut {
			report(HandshakeTimedOut{Reason: fmt.Sprintf("handshake did not complete within %s", c.timeout)})
			return
		}
		c.log.Warn("relay dial failed", "err", err)
		report(ConnectionLost{Reason: err.Error()})
		return
	}

	if !report(HandshakeSucceeded{}) {
		conn.Close()
		return
	}

	err = c.runSession(ctx, conn)
	if ctx.Err() != nil {
		return
	}
	c.log.Warn("relay session ended", "err", err)
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	report(ConnectionLost{Reason: reason})
}
