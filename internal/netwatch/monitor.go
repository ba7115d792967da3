// Package netwatch tracks whether the relay host is reachable by periodically
// dialing it.
package netwatch

import (
	"context"
	"log/slog"
	"net"
	"time"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 3 * time.Second
)

// Monitor probes a TCP address and reports reachability changes.
type Monitor struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	log      *slog.Logger
}

// New returns a monitor that dials address every interval.
func New(address string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	var d net.Dialer
	return &Monitor{
		address:  address,
		interval: interval,
		timeout:  defaultTimeout,
		dial:     d.DialContext,
		log:      logger.With("component", "netwatch"),
	}
}

// Probe dials the address once.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.address)
	if err != nil {
		m.log.Debug("probe failed", "addr", m.address, "err", err)
		return false
	}
	conn.Close()
	return true
}

// Watch probes immediately and then every interval. The returned channel
// receives the first result and every change after it, and is closed when
// ctx is done.
func (m *Monitor) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		defer close(ch)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		reachable := m.Probe(ctx)
		if !send(ctx, ch, reachable) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			now := m.Probe(ctx)
			if now == reachable {
				continue
			}
			reachable = now
			m.log.Info("reachability changed", "addr", m.address, "reachable", reachable)
			if !send(ctx, ch, reachable) {
				return
			}
		}
	}()
	return ch
}

func send(ctx context.Context, ch chan<- bool, v bool) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// Always reports the network as permanently reachable.
type Always struct{}

func (Always) Watch(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	ch <- true
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
