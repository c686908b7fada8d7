package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProvider keeps artifacts in memory. For tests and dry runs.
type MemoryProvider struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string][]byte)}
}

// Save stores a copy of the artifact and returns a mem:// URI.
func (p *MemoryProvider) Save(_ context.Context, objectName, _ string, data []byte) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("object name is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[objectName] = append([]byte(nil), data...)
	return "mem://" + objectName, nil
}

// Object returns a stored artifact.
func (p *MemoryProvider) Object(objectName string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[objectName]
	return data, ok
}

// Len reports how many artifacts are stored.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}
