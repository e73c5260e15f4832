package storage

import (
	"context"
	"io"
)

// ObjectStorage is the blob store exported result files are written to.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// URL returns a link to the object: a public URL when one is configured,
	// otherwise a time-limited presigned GET.
	URL(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
