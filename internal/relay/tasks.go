package relay

import (
	"context"
	"runtime/debug"

	"orchardgrid/internal/protocol"
	"orchardgrid/internal/stats"
)

// runTask serves one task envelope and sends every correlated reply: a
// response, a run of stream envelopes closed by stream_end, or a single
// error.
func (c *Client) runTask(ctx context.Context, task protocol.Envelope, send func(protocol.Envelope) bool) {
	log := c.log.With("task", task.ID)

	fail := func(err error) {
		perr := protocol.AsError(err)
		c.stats.RecordError(perr.Message)
		log.Warn("relay task failed", "err", perr.Message, "code", perr.Body().Error.Code)
		send(protocol.ErrorEnvelope(task.ID, perr))
	}
	reply := func(typ protocol.EnvelopeType, payload any) bool {
		env, err := protocol.NewEnvelope(task.ID, typ, payload)
		if err != nil {
			fail(err)
			return false
		}
		return send(env)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("relay task panicked", "panic", r, "stack", string(debug.Stack()))
			fail(protocol.Internal("inference failed"))
		}
	}()

	req, err := protocol.DecodeChatRequest(task.Payload)
	if err != nil {
		c.stats.RecordRequest(stats.SourceRelay, string(task.Payload))
		fail(err)
		return
	}
	c.stats.RecordRequest(stats.SourceRelay, req.Summary())

	call, err := c.svc.Prepare(ctx, req)
	if err != nil {
		fail(err)
		return
	}

	if !call.Streaming() {
		resp, err := call.Complete(ctx)
		if err != nil {
			fail(err)
			return
		}
		c.stats.RecordResponse(call.Content())
		reply(protocol.EnvelopeResponse, resp)
		return
	}

	err = call.Stream(ctx, func(chunk protocol.StreamChunk) error {
		env, err := protocol.NewEnvelope(task.ID, protocol.EnvelopeStream, chunk)
		if err != nil {
			return err
		}
		if !send(env) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("relay stream cancelled", "err", err)
			return
		}
		fail(err)
		return
	}
	c.stats.RecordResponse(call.Content())
	reply(protocol.EnvelopeStreamEnd, nil)
}
