package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"orchardgrid/internal/protocol"
)

var corsHeaders = []string{
	"Access-Control-Allow-Origin: *",
	"Access-Control-Allow-Methods: GET, POST, OPTIONS",
	"Access-Control-Allow-Headers: Authorization, Content-Type",
}

func writeHead(w *bufio.Writer, status int, headers ...string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for _, h := range headers {
		w.WriteString(h)
		w.WriteString("\r\n")
	}
	for _, h := range corsHeaders {
		w.WriteString(h)
		w.WriteString("\r\n")
	}
	w.WriteString("\r\n")
}

// writeJSON writes a complete response. If payload cannot be encoded only a
// bare 500 status line is sent.
func writeJSON(conn io.Writer, status int, payload any) error {
	w := bufio.NewWriter(conn)
	body, err := json.Marshal(payload)
	if err != nil {
		writeHead(w, http.StatusInternalServerError, "Content-Length: 0", "Connection: close")
		if ferr := w.Flush(); ferr != nil {
			return ferr
		}
		return fmt.Errorf("marshal response: %w", err)
	}

	writeHead(w, status,
		"Content-Type: application/json",
		fmt.Sprintf("Content-Length: %d", len(body)),
		"Connection: close",
	)
	w.Write(body)
	return w.Flush()
}

func writeError(conn io.Writer, err *protocol.Error) error {
	return writeJSON(conn, err.Status(), err.Body())
}

func writeNoContent(conn io.Writer) error {
	w := bufio.NewWriter(conn)
	writeHead(w, http.StatusNoContent, "Access-Control-Max-Age: 86400", "Connection: close")
	return w.Flush()
}

// eventStream writes server-sent events, flushing after each one.
type eventStream struct {
	w *bufio.Writer
}

func startEventStream(conn io.Writer) (*eventStream, error) {
	w := bufio.NewWriter(conn)
	writeHead(w, http.StatusOK,
		"Content-Type: text/event-stream",
		"Cache-Control: no-cache",
		"Connection: keep-alive",
	)
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return &eventStream{w: w}, nil
}

func (s *eventStream) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return s.w.Flush()
}

func (s *eventStream) Done() error {
	if _, err := s.w.WriteString("data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	return s.w.Flush()
}
