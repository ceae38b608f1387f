// Package storage provides scratch file handling for media decoding and
// optional export of finished results to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines scratch-file operations plus result export.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Export fails with ErrExportNotConfigured on LocalStorage.
	Exporter
}

// Exporter hands a copy of a finished result to external object storage.
type Exporter interface {
	// Export uploads data under key and returns its URL.
	// Returns ErrExportNotConfigured if no export target is configured.
	Export(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
