// Package capture implements the traffic capture sink: an intercepting
// transport that records every request/response pair flowing through it,
// keyed by a correlation id, plus HAR serialization of the recorded log.
package capture

import (
	"net/http"
	"sync"
	"time"
)

// Phase tags which pipeline stage produced an exchange.
type Phase string

// Capture phases.
const (
	PhaseCrawl Phase = "crawl"
	PhaseProbe Phase = "probe"
)

// Exchange is one captured request/response pair. Immutable once recorded.
type Exchange struct {
	ID          string
	Phase       Phase
	Method      string
	URL         string
	StatusCode  int
	ReqHeaders  http.Header
	RespHeaders http.Header
	MimeType    string
	ReqBody     []byte
	RespBody    []byte
	Start       time.Time
	Duration    time.Duration
}

// Sink records exchanges. Implementations must write each exchange
// atomically so concurrent writers never interleave partial records.
type Sink interface {
	Record(ex Exchange)
}

// Log is an append-mostly, mutex-guarded Sink holding exchanges in order
// of arrival.
type Log struct {
	mu      sync.Mutex
	entries []Exchange
}

// NewLog returns an empty capture log.
func NewLog() *Log {
	return &Log{}
}

// Record appends one exchange. The entry is copied in whole under the
// lock, so readers never observe a partial record.
func (l *Log) Record(ex Exchange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ex)
}

// Len returns the number of recorded exchanges.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of the recorded exchanges.
func (l *Log) Snapshot() []Exchange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Exchange, len(l.entries))
	copy(out, l.entries)
	return out
}
