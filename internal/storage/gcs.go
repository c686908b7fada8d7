package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"
)

// GCSProvider writes artifacts to a Google Cloud Storage bucket.
type GCSProvider struct {
	client *gstorage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed provider. prefix may be empty.
func NewGCS(client *gstorage.Client, bucket, prefix string) (*GCSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSProvider{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Save uploads the artifact and returns a gs:// URI.
func (p *GCSProvider) Save(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(objectName) == "" {
		return "", fmt.Errorf("object name is required")
	}
	path := objectName
	if p.prefix != "" {
		path = p.prefix + "/" + objectName
	}
	writer := p.client.Bucket(p.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", p.bucket, path), nil
}
