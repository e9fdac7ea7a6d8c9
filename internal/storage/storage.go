// Package storage provides durable archival of generated assets. Provider
// result URLs expire after a retention window, so completed videos are copied
// into storage the service controls: local disk for development, S3 for
// production.
package storage

import (
	"context"
	"io"
)

// Storage persists an asset under a key and returns its durable URL.
type Storage interface {
	Store(ctx context.Context, key string, data io.Reader) (url string, err error)
}
