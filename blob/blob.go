// Package blob provides content-addressed byte storage for artifact
// payloads. Blobs are keyed by their sha256 digest, so writes are
// idempotent and shared across unrelated content.
package blob

import (
	"context"
	"io"
)

// Store is content-addressed blob storage. Put is idempotent: writing the
// same digest twice is a no-op for the second writer.
type Store interface {
	// Put stores the bytes read from r under digest. Implementations may
	// skip the write entirely when the digest already exists.
	Put(ctx context.Context, digest string, r io.Reader) error

	// Get returns a reader over the bytes stored under digest, or
	// syncforge.ErrBlobNotFound. The caller must close the reader.
	Get(ctx context.Context, digest string) (io.ReadCloser, error)

	// Exists reports whether bytes are stored under digest.
	Exists(ctx context.Context, digest string) (bool, error)

	// Delete removes the bytes stored under digest. Deleting a missing
	// digest is not an error.
	Delete(ctx context.Context, digest string) error
}
