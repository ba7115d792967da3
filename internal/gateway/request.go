package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	"orchardgrid/internal/protocol"
)

const maxHeaderBytes = 64 << 10

type request struct {
	Method  string
	Path    string
	Version string
	Header  map[string]string
	Body    []byte
}

// readRequest parses a single HTTP/1.x request from r. Header names are
// lowercased. Without Content-Length the body is whatever has already been
// buffered, up to maxBody bytes. io.EOF is returned untouched when the peer
// closed the connection before sending anything.
func readRequest(r *bufio.Reader, maxBody int64) (*request, error) {
	var (
		req   request
		total int
		first = true
	)
	req.Header = make(map[string]string)

	for {
		line, err := r.ReadSlice('\n')
		total += len(line)
		if total > maxHeaderBytes || errors.Is(err, bufio.ErrBufferFull) {
			return nil, protocol.BadRequest("request header exceeds %d bytes", maxHeaderBytes)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && first && len(line) == 0 {
				return nil, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return nil, protocol.BadRequest("incomplete request header")
			}
			return nil, err
		}

		text := strings.TrimRight(string(line), "\r\n")
		if first {
			first = false
			if err := req.parseRequestLine(text); err != nil {
				return nil, err
			}
			continue
		}
		if text == "" {
			break
		}
		name, value, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		req.Header[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	body, err := readBody(r, req.Header["content-length"], maxBody)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return &req, nil
}

func (req *request) parseRequestLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return protocol.BadRequest("malformed request line")
	}
	req.Method = strings.ToUpper(fields[0])
	req.Path, _, _ = strings.Cut(fields[1], "?")
	if len(fields) == 3 {
		req.Version = fields[2]
	}
	return nil
}

func readBody(r *bufio.Reader, contentLength string, maxBody int64) ([]byte, error) {
	if contentLength == "" {
		n := int64(r.Buffered())
		if n > maxBody {
			n = maxBody
		}
		if n == 0 {
			return nil, nil
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		return body, nil
	}

	length, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || length < 0 {
		return nil, protocol.BadRequest("invalid Content-Length %q", contentLength)
	}
	if length > maxBody {
		return nil, protocol.BadRequest("request body exceeds %d bytes", maxBody)
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, length); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, protocol.BadRequest("request body shorter than Content-Length")
		}
		return nil, err
	}
	return buf.Bytes(), nil
}
