package domain

import (
	"context"
	"time"
)

// BlobWriter uploads an object to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// BlobReader downloads and lists archived objects.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Archiver moves aged records out of the primary store. It is the explicit
// cleanup collaborator for the offline queue: only items already marked
// completed are ever removed, and only after the archive upload succeeded.
type Archiver interface {
	ArchiveCompletedOperations(ctx context.Context, before time.Time) (int64, error)
	ArchiveRealizations(ctx context.Context, before time.Time) (int64, error)
}
