package content

import (
	"context"
)

// DeclarativeArtifact is an in-memory description of one byte blob of a
// content unit, not yet guaranteed persisted or deduplicated.
type DeclarativeArtifact struct {
	// RelPath is the artifact's path relative to its content unit.
	RelPath string

	// URL is where the bytes can be fetched from the remote.
	URL string

	// ExpectedDigest is the sha256 the remote metadata declared
	// ("sha256:<hex>").
	ExpectedDigest string

	// ExpectedSize is the byte count the remote metadata declared.
	// Zero means unknown.
	ExpectedSize int64

	// Deferred marks the bytes for lazy fetch after the sync completes.
	Deferred bool

	// Artifact is the persisted row this declaration was resolved or
	// saved to. Nil until the resolver rebinds it or the downloader
	// fetches and verifies the bytes.
	Artifact *Artifact
}

// Resolved reports whether the declaration is already backed by a
// persisted artifact row.
func (da *DeclarativeArtifact) Resolved() bool { return da.Artifact != nil }

// Declarative is an in-memory description of one content unit flowing
// through the pipeline. It is exclusively owned by the stage currently
// processing it.
type Declarative struct {
	// Type and Key form the natural uniqueness tuple.
	Type string
	Key  Key

	// Artifacts are the unit's declared byte blobs.
	Artifacts []*DeclarativeArtifact

	// Content is the persisted row this declaration was resolved or saved
	// to. Nil until the resolver rebinds it or the saver persists it.
	Content *Content

	// Err records a content error (digest mismatch, malformed metadata)
	// against this item. An item with a recorded error is not persisted
	// but does not abort the pipeline; it surfaces in the task report.
	Err error

	// done is the resolution future: closed by the saver once Content is
	// persisted. Logic that needs the persisted row awaits the handle
	// rather than blocking the pipeline channel.
	done chan struct{}
}

// NewDeclarative creates a declarative content unit with an unresolved
// future.
func NewDeclarative(contentType string, key Key, artifacts ...*DeclarativeArtifact) *Declarative {
	return &Declarative{
		Type:      contentType,
		Key:       key,
		Artifacts: artifacts,
		done:      make(chan struct{}),
	}
}

// Resolve binds the persisted row and signals the future. Calling Resolve
// twice is a programming error (the channel close panics), matching the
// single-owner contract.
func (d *Declarative) Resolve(c *Content) {
	d.Content = c
	close(d.done)
}

// Fail records a content error against the item and signals the future so
// awaiting callers are not left blocked.
func (d *Declarative) Fail(err error) {
	d.Err = err
	close(d.done)
}

// Await blocks until the item is resolved (or failed) or the context is
// canceled. It returns the persisted content row or the recorded error.
func (d *Declarative) Await(ctx context.Context) (*Content, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		if d.Err != nil {
			return nil, d.Err
		}
		return d.Content, nil
	}
}

// Resolved reports whether the declaration is already backed by a
// persisted content row.
func (d *Declarative) Resolved() bool { return d.Content != nil }
