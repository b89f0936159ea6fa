package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/blob"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/fetch"
)

// Digest returns the canonical digest string for data: "sha256:<hex>".
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// isContentError reports whether err invalidates one item rather than the
// whole run.
func isContentError(err error) bool {
	return errors.Is(err, syncforge.ErrDigestMismatch) ||
		errors.Is(err, syncforge.ErrSizeMismatch)
}

// artifactFetcher fetches one artifact's bytes, verifies them against the
// declared digest and size, and stores them in the blob store.
type artifactFetcher struct {
	fetcher fetch.Fetcher
	blobs   blob.Store
	emit    func(ctx context.Context, digest string, size int64)
}

// fetchArtifact downloads da.URL, verifies the payload, persists the bytes,
// and binds a fresh artifact row to the declaration. The returned error is
// a content error on digest or size mismatch and fatal otherwise.
func (f *artifactFetcher) fetchArtifact(ctx context.Context, da *content.DeclarativeArtifact) error {
	rc, err := f.fetcher.Fetch(ctx, da.URL)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return &fetch.TransportError{URL: da.URL, Err: err}
	}

	size := int64(len(data))
	digest := Digest(data)
	if da.ExpectedDigest != "" && digest != da.ExpectedDigest {
		return fmt.Errorf("%w: declared %s, got %s",
			syncforge.ErrDigestMismatch, da.ExpectedDigest, digest)
	}
	if da.ExpectedSize > 0 && size != da.ExpectedSize {
		return fmt.Errorf("%w: declared %d bytes, got %d",
			syncforge.ErrSizeMismatch, da.ExpectedSize, size)
	}

	if err := f.blobs.Put(ctx, digest, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store blob %s: %w", digest, err)
	}

	da.Artifact = content.NewArtifact(digest, size)
	if f.emit != nil {
		f.emit(ctx, digest, size)
	}
	return nil
}
