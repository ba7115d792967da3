package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"orchardgrid/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	outboundQueueSize = 64
)

var errHeartbeatTimeout = errors.New("heartbeat timeout")

// runSession serves one websocket until it fails or ctx is cancelled. The
// reader, the single writer and every task run in one errgroup, so the first
// failure tears all of them down.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	outbound := make(chan protocol.Envelope, outboundQueueSize)
	send := func(env protocol.Envelope) bool {
		select {
		case outbound <- env:
			return true
		case <-ctx.Done():
			return false
		}
	}

	liveness := 3 * c.heartbeat
	if err := conn.SetReadDeadline(time.Now().Add(liveness)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveness))
	})

	g.Go(func() error {
		return c.writeLoop(ctx, conn, outbound)
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return errHeartbeatTimeout
				}
				return fmt.Errorf("read: %w", err)
			}
			if err := conn.SetReadDeadline(time.Now().Add(liveness)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.log.Warn("dropping malformed relay message", "err", err)
				continue
			}
			switch env.Type {
			case protocol.EnvelopeTask:
				g.Go(func() error {
					c.runTask(ctx, env, send)
					return nil
				})
			case protocol.EnvelopeHeartbeat:
			default:
				c.log.Warn("ignoring relay message", "type", env.Type, "id", env.ID)
			}
		}
	})

	return g.Wait()
}

// writeLoop is the only goroutine that writes to conn. It also emits the
// heartbeat: an envelope followed by a ping frame.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan protocol.Envelope) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()

		case env := <-outbound:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteJSON(env); err != nil {
				return fmt.Errorf("write %s: %w", env.Type, err)
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("set write deadline: %w", err)
			}
			if err := conn.WriteJSON(protocol.Envelope{ID: uuid.NewString(), Type: protocol.EnvelopeHeartbeat}); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}
