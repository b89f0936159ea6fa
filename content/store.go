package content

import (
	"context"

	"github.com/syncforge/syncforge/id"
)

// Unit is one logical persistence unit: a content row, the artifact rows
// backing it, and the links binding them. SaveUnit persists all of it in
// one transaction so a mid-failure never leaves a content row without its
// association rows.
type Unit struct {
	Content   *Content
	Artifacts []*Artifact
	Links     []*RemoteLink
}

// Store defines the persistence contract for content, artifacts, and
// repository membership.
//
// Creation is idempotent by natural key (content) and digest (artifact):
// the implementation must use create-if-absent at the storage layer, not a
// caller-local cache, so the dedup guarantee holds across processes.
type Store interface {
	// FindContent returns persisted content rows matching the given
	// natural keys within a content type, indexed by Key.Canonical().
	// Missing keys are simply absent from the result.
	FindContent(ctx context.Context, contentType string, keys []Key) (map[string]*Content, error)

	// FindArtifacts returns persisted artifact rows for the given digests,
	// indexed by digest. Missing digests are absent from the result.
	FindArtifacts(ctx context.Context, digests []string) (map[string]*Artifact, error)

	// SaveUnit atomically persists a unit with create-if-absent semantics.
	// When a row with the same natural key or digest already exists, the
	// unit's pointers are rebound to the existing row; links are created
	// against whichever rows won. The unit reflects the persisted state on
	// return.
	SaveUnit(ctx context.Context, u *Unit) error

	// CreateArtifactIfAbsent persists an artifact row keyed by digest,
	// returning the existing row when the digest is already stored.
	CreateArtifactIfAbsent(ctx context.Context, a *Artifact) (*Artifact, error)

	// GetLink retrieves a remote link by ID.
	GetLink(ctx context.Context, linkID id.LinkID) (*RemoteLink, error)

	// ListLinks returns the remote links of a content unit.
	ListLinks(ctx context.Context, contentID id.ContentID) ([]*RemoteLink, error)

	// BindLinkArtifact sets the artifact backing a previously null link
	// (on-demand materialization of a deferred artifact).
	BindLinkArtifact(ctx context.Context, linkID id.LinkID, artifactID id.ArtifactID) error

	// AddToRepository records repository membership for the given content.
	// The operation is idempotent and order-independent.
	AddToRepository(ctx context.Context, repository string, contentIDs []id.ContentID) error

	// ListRepositoryContent returns the IDs of all content in a repository.
	ListRepositoryContent(ctx context.Context, repository string) ([]id.ContentID, error)

	// CountContent returns the number of persisted content rows of a type.
	CountContent(ctx context.Context, contentType string) (int64, error)
}
