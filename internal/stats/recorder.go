// Package stats holds the counters both transports update and the status
// API reads.
package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Source names the transport that served a request.
type Source string

const (
	SourceGateway Source = "gateway"
	SourceRelay   Source = "relay"
)

// summaryLimit bounds the stored request and response text, in runes.
const summaryLimit = 200

// Recorder counts requests and keeps the most recent request/response text.
// It is safe for concurrent use.
type Recorder struct {
	requests atomic.Int64
	errors   atomic.Int64

	mu           sync.Mutex
	lastRequest  string
	lastResponse string
	lastSource   Source
	updatedAt    time.Time
}

// Snapshot is a point-in-time copy of the recorder.
type Snapshot struct {
	Requests     int64     `json:"requests"`
	Errors       int64     `json:"errors"`
	LastRequest  string    `json:"last_request,omitempty"`
	LastResponse string    `json:"last_response,omitempty"`
	LastSource   Source    `json:"last_source,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRequest counts a request and stores its summary.
func (r *Recorder) RecordRequest(src Source, summary string) {
	if r == nil {
		return
	}
	r.requests.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRequest = clip(summary)
	r.lastResponse = ""
	r.lastSource = src
	r.updatedAt = time.Now()
}

// RecordResponse stores the summary of the latest response.
func (r *Recorder) RecordResponse(summary string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastResponse = clip(summary)
	r.updatedAt = time.Now()
}

// RecordError counts a failed request and stores its message as the response.
func (r *Recorder) RecordError(message string) {
	if r == nil {
		return
	}
	r.errors.Add(1)
	r.RecordResponse("error: " + message)
}

// Snapshot returns a consistent copy of the current values.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Requests:     r.requests.Load(),
		Errors:       r.errors.Load(),
		LastRequest:  r.lastRequest,
		LastResponse: r.lastResponse,
		LastSource:   r.lastSource,
		UpdatedAt:    r.updatedAt,
	}
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= summaryLimit {
		return s
	}
	return string(runes[:summaryLimit]) + "…"
}
