// Package storage defines the interface for persisting scan artifacts
// (the HAR capture, stats snapshots) to a blob store, independent of a
// specific backend.
package storage

import "context"

// Provider saves named artifacts and returns a URI locating them.
type Provider interface {
	Save(ctx context.Context, objectName string, contentType string, data []byte) (string, error)
}
