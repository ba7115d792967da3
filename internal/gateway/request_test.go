package gateway

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchardgrid/internal/protocol"
)

func parse(raw string, maxBody int64) (*request, error) {
	return readRequest(bufio.NewReaderSize(strings.NewReader(raw), maxHeaderBytes), maxBody)
}

func TestReadRequestWithContentLength(t *testing.T) {
	req, err := parse("POST /v1/chat/completions?x=1 HTTP/1.1\r\nHost: local\r\nContent-Length: 4\r\n\r\nbodyEXTRA", 1024)
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/v1/chat/completions", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Version)
	assert.Equal(t, "local", req.Header["host"])
	assert.Equal(t, "body", string(req.Body))
}

func TestReadRequestAcceptsBareLineFeeds(t *testing.T) {
	req, err := parse("get /v1/models\nAccept: */*\n\n", 1024)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/v1/models", req.Path)
	assert.Empty(t, req.Version)
	assert.Empty(t, req.Body)
}

func TestReadRequestWithoutContentLengthUsesBufferedBytes(t *testing.T) {
	req, err := parse("POST /v1/chat/completions HTTP/1.1\r\n\r\n{\"a\":1}", 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(req.Body))

	req, err = parse("POST /v1/chat/completions HTTP/1.1\r\n\r\n0123456789", 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(req.Body))
}

func TestReadRequestErrors(t *testing.T) {
	cases := map[string]struct {
		raw     string
		maxBody int64
	}{
		"malformed request line": {raw: "GARBAGE\r\n\r\n", maxBody: 1024},
		"body too large":         {raw: "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789", maxBody: 4},
		"short body":             {raw: "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123", maxBody: 1024},
		"bad content length":     {raw: "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", maxBody: 1024},
		"truncated header":       {raw: "POST / HTTP/1.1\r\nHost: x\r\n", maxBody: 1024},
		"oversized header":       {raw: "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", maxHeaderBytes) + "\r\n\r\n", maxBody: 1024},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parse(tc.raw, tc.maxBody)
			var perr *protocol.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, protocol.KindBadRequest, perr.Kind)
		})
	}
}

func TestReadRequestEmptyConnection(t *testing.T) {
	_, err := parse("", 1024)
	assert.ErrorIs(t, err, io.EOF)
}
