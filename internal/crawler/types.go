// Package crawler implements the discovery phase: it drives a browser
// session breadth-first across a site, observes the network calls each
// page triggers, and appends them to the endpoint inventory while
// forwarding all traffic to the capture sink.
package crawler

import (
	"context"
	"net/http"
	"time"
)

// Config holds the settings for a crawl session.
type Config struct {
	StartURL      string
	MaxDepth      int
	MaxPages      int
	NavTimeout    time.Duration
	PolitenessQPS float64
	SubmitForms   bool
	UserAgent     string
	Headers       map[string]string
	Cookies       map[string]string
	ProxyURL      string
}

// ObservedRequest is one network call seen while a page rendered,
// navigation or background.
type ObservedRequest struct {
	Method      string
	URL         string
	Headers     http.Header
	Body        []byte
	StatusCode  int
	MimeType    string
	RespHeaders http.Header
	Type        string
	Start       time.Time
	Duration    time.Duration
}

// PageVisit is the result of rendering one page.
type PageVisit struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Requests   []ObservedRequest
}

// Navigator renders a page in a live client session and reports the
// network calls it triggered. Implementations own the session state
// (cookies, storage) for their lifetime.
type Navigator interface {
	Navigate(ctx context.Context, rawURL string) (PageVisit, error)
	Close(ctx context.Context) error
}

// StateStore persists crawl progress for resume. The engine saves after
// every page and clears on clean completion.
type StateStore interface {
	Save(visited []string, frontier []FrontierItem) error
	Load() (visited []string, frontier []FrontierItem, err error)
	Clear() error
}

// FrontierItem is one queued navigation target.
type FrontierItem struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}
