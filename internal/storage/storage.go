// Package storage defines the blob contract used to persist crawl state.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetObject when no object exists at path.
var ErrNotFound = errors.New("object not found")

// Content types used for persisted state.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)

// BlobStore persists whole objects by path. Writes replace the object
// wholesale; readers never observe a partially written object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}
