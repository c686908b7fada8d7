// Package publisher emits scan lifecycle events so downstream consumers
// (spec synthesis jobs, dashboards) learn when a run's artifacts are
// ready.
package publisher

import (
	"context"
	"time"
)

// Publisher delivers one event payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ScanEvent announces a completed (or aborted) scan run and where its
// artifacts landed.
type ScanEvent struct {
	RunID       string    `json:"run_id"`
	StartURL    string    `json:"start_url"`
	APIPrefix   string    `json:"api_prefix,omitempty"`
	Endpoints   int       `json:"endpoints"`
	Templates   int       `json:"templates"`
	Attempts    int64     `json:"attempts"`
	HARURI      string    `json:"har_uri,omitempty"`
	StatsURI    string    `json:"stats_uri,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	Aborted     bool      `json:"aborted,omitempty"`
}
