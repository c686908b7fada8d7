package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSProvider writes artifacts under a base directory.
type FSProvider struct {
	baseDir string
}

// NewFS creates a filesystem-backed provider rooted at baseDir,
// creating it if needed.
func NewFS(baseDir string) (*FSProvider, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &FSProvider{baseDir: baseDir}, nil
}

// Save writes the artifact and returns a file:// URI. Object names may
// contain slashes; intermediate directories are created.
func (p *FSProvider) Save(_ context.Context, objectName, _ string, data []byte) (string, error) {
	clean := filepath.Clean(objectName)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object name %q", objectName)
	}
	path := filepath.Join(p.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}
