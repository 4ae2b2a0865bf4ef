// Package objectstore abstracts the bundle-archive blob store behind a
// small interface so pkg/bundle can be tested without a real S3 bucket
// (the object store itself is an external collaborator per spec.md §1).
package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectStore stores and serves bundle archives by content-addressed key.
type ObjectStore interface {
	// Put uploads size bytes from r under key, returning once durably stored.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// PresignGET returns a time-limited URL a node can GET the object from
	// directly, without routing the archive bytes through the control plane.
	PresignGET(ctx context.Context, key string, ttl time.Duration) (string, error)
}
