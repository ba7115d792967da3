package relay

import (
	"fmt"
	"time"
)

// Phase tags the active connection state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the connection state. Attempt, Delay and NextRetry are set for
// reconnecting and failed; Reason for failed and reconnecting. Connecting
// carries the attempt count of the campaign it belongs to.
type State struct {
	Phase     Phase     `json:"phase"`
	Attempt   int       `json:"attempt,omitempty"`
	Delay     Duration  `json:"delay,omitempty"`
	NextRetry time.Time `json:"next_retry,omitzero"`
	Reason    string    `json:"reason,omitempty"`
}

// Duration renders as a Go duration string in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (s State) String() string {
	switch s.Phase {
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting(attempt=%d, delay=%s)", s.Attempt, time.Duration(s.Delay))
	case PhaseFailed:
		return fmt.Sprintf("failed(%s, attempt=%d, delay=%s)", s.Reason, s.Attempt, time.Duration(s.Delay))
	default:
		return s.Phase.String()
	}
}

// Event drives a transition.
type Event interface {
	event()
}

// Connect starts or resumes connecting.
type Connect struct{}

// HandshakeSucceeded reports an established session.
type HandshakeSucceeded struct{}

// HandshakeTimedOut reports that the handshake missed the connect deadline.
type HandshakeTimedOut struct{ Reason string }

// ConnectionLost reports a dial error, socket error, abnormal close or
// heartbeat timeout.
type ConnectionLost struct{ Reason string }

// Disable is an explicit shutdown.
type Disable struct{}

func (Connect) event()            {}
func (HandshakeSucceeded) event() {}
func (HandshakeTimedOut) event()  {}
func (ConnectionLost) event()     {}
func (Disable) event()            {}

// Apply returns the state that ev moves s to and whether it differs from s.
// Events that do not apply to the current phase leave it unchanged.
func (s State) Apply(ev Event, now time.Time, b Backoff) (State, bool) {
	switch ev := ev.(type) {
	case Disable:
		if s.Phase == PhaseDisconnected {
			return s, false
		}
		return State{Phase: PhaseDisconnected}, true

	case Connect:
		switch s.Phase {
		case PhaseDisconnected:
			return State{Phase: PhaseConnecting}, true
		case PhaseReconnecting, PhaseFailed:
			return State{Phase: PhaseConnecting, Attempt: s.Attempt}, true
		}

	case HandshakeSucceeded:
		if s.Phase == PhaseConnecting {
			return State{Phase: PhaseConnected}, true
		}

	case HandshakeTimedOut:
		if s.Phase == PhaseConnecting {
			return s.retry(PhaseFailed, ev.Reason, now, b), true
		}

	case ConnectionLost:
		if s.Phase == PhaseConnecting || s.Phase == PhaseConnected {
			return s.retry(PhaseReconnecting, ev.Reason, now, b), true
		}
	}
	return s, false
}

func (s State) retry(phase Phase, reason string, now time.Time, b Backoff) State {
	attempt := s.Attempt + 1
	delay := b.Delay(attempt)
	return State{
		Phase:     phase,
		Attempt:   attempt,
		Delay:     Duration(delay),
		NextRetry: now.Add(delay),
		Reason:    reason,
	}
}

// Backoff computes retry delays: Base doubled per attempt up to Max, and
// Fallback once the attempt count exceeds FallbackAfter.
type Backoff struct {
	Base          time.Duration
	Max           time.Duration
	Fallback      time.Duration
	FallbackAfter int
}

// DefaultBackoff yields 1s, 2s, 4s ... 60s, then 300s after ten attempts.
var DefaultBackoff = Backoff{
	Base:          time.Second,
	Max:           60 * time.Second,
	Fallback:      300 * time.Second,
	FallbackAfter: 10,
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.FallbackAfter > 0 && attempt > b.FallbackAfter {
		return b.Fallback
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	return min(delay, b.Max)
}
