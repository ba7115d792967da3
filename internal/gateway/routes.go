package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"

	"orchardgrid/internal/pipeline"
	"orchardgrid/internal/protocol"
	"orchardgrid/internal/stats"
)

// route dispatches req and returns the status written and the request error,
// if any.
func (g *Gateway) route(ctx context.Context, conn net.Conn, req *request) (int, error) {
	switch {
	case req.Method == http.MethodOptions:
		return http.StatusNoContent, writeNoContent(conn)
	case req.Method == http.MethodGet && req.Path == "/v1/models":
		return http.StatusOK, writeJSON(conn, http.StatusOK, protocol.NewModelList(g.svc.Models()))
	case req.Method == http.MethodPost && req.Path == "/v1/chat/completions":
		return g.handleChatCompletions(ctx, conn, req)
	default:
		perr := protocol.NotFound("no route for %s %s", req.Method, req.Path)
		return perr.Status(), errors.Join(perr, writeError(conn, perr))
	}
}

func (g *Gateway) handleChatCompletions(ctx context.Context, conn net.Conn, req *request) (int, error) {
	chat, err := protocol.DecodeChatRequest(req.Body)
	if err != nil {
		g.stats.RecordRequest(stats.SourceGateway, string(req.Body))
		return g.fail(conn, err)
	}
	g.stats.RecordRequest(stats.SourceGateway, chat.Summary())

	call, err := g.svc.Prepare(ctx, chat)
	if err != nil {
		return g.fail(conn, err)
	}

	if !call.Streaming() {
		resp, err := call.Complete(ctx)
		if err != nil {
			return g.fail(conn, err)
		}
		g.stats.RecordResponse(call.Content())
		return http.StatusOK, writeJSON(conn, http.StatusOK, resp)
	}

	return http.StatusOK, g.stream(ctx, conn, call)
}

func (g *Gateway) stream(ctx context.Context, conn net.Conn, call *pipeline.Call) error {
	events, err := startEventStream(conn)
	if err != nil {
		return err
	}

	var sinkErr error
	err = call.Stream(ctx, func(chunk protocol.StreamChunk) error {
		if sinkErr = events.Send(chunk); sinkErr != nil {
			return sinkErr
		}
		return nil
	})
	if err != nil {
		g.stats.RecordError(err.Error())
		if sinkErr != nil {
			return err
		}
	} else {
		g.stats.RecordResponse(call.Content())
	}
	return errors.Join(err, events.Done())
}

func (g *Gateway) fail(conn net.Conn, err error) (int, error) {
	perr := protocol.AsError(err)
	g.stats.RecordError(perr.Message)
	return perr.Status(), errors.Join(perr, writeError(conn, perr))
}
