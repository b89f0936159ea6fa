package content

import (
	"sort"
	"strings"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/id"
)

// Key is the natural uniqueness tuple of one content unit, e.g.
// {"name": "bash", "version": "5.2", "arch": "x86_64"}.
type Key map[string]string

// Canonical returns a deterministic string form of the key, used for
// store lookups and dedup indexing. Fields are sorted by name.
func (k Key) Canonical() string {
	fields := make([]string, 0, len(k))
	for name, value := range k {
		fields = append(fields, name+"="+value)
	}
	sort.Strings(fields)
	return strings.Join(fields, ";")
}

// Policy is the fetch-timing strategy for artifact bytes.
type Policy string

const (
	// PolicyImmediate fetches artifact bytes during the sync and stores
	// them in the blob store.
	PolicyImmediate Policy = "immediate"
	// PolicyDeferred skips the fetch during sync; bytes are fetched on the
	// first client request and then stored.
	PolicyDeferred Policy = "deferred"
	// PolicyStreamed proxies bytes from the remote on every client
	// request and never stores them.
	PolicyStreamed Policy = "streamed"
)

// Content is a persisted logical content unit, deduplicated by its natural
// key within a content type. A content row is only ever created while a
// reservation on its target repository is held.
type Content struct {
	syncforge.Entity

	ID   id.ContentID `json:"id"`
	Type string       `json:"type"`
	Key  Key          `json:"key"`
}

// New creates a content unit of the given type and natural key.
func New(contentType string, key Key) *Content {
	return &Content{
		Entity: syncforge.NewEntity(),
		ID:     id.NewContentID(),
		Type:   contentType,
		Key:    key,
	}
}

// Artifact is persisted, content-addressed byte storage. Rows are
// deduplicated by digest and safe to share across unrelated content.
type Artifact struct {
	syncforge.Entity

	ID     id.ArtifactID `json:"id"`
	Digest string        `json:"digest"`
	Size   int64         `json:"size"`
}

// NewArtifact creates a content-addressed artifact row for verified bytes.
func NewArtifact(digest string, size int64) *Artifact {
	return &Artifact{
		Entity: syncforge.NewEntity(),
		ID:     id.NewArtifactID(),
		Digest: digest,
		Size:   size,
	}
}

// RemoteLink associates a content unit with one of its artifacts. When
// ArtifactID is nil the bytes have not been fetched yet; the link then
// records the remote fetch URL plus expected digest and size so an
// on-demand or streamed retrieval can materialize (or proxy) them later.
type RemoteLink struct {
	syncforge.Entity

	ID         id.LinkID     `json:"id"`
	ContentID  id.ContentID  `json:"content_id"`
	RelPath    string        `json:"rel_path"`
	ArtifactID id.ArtifactID `json:"artifact_id,omitempty"`

	URL            string `json:"url"`
	ExpectedDigest string `json:"expected_digest"`
	ExpectedSize   int64  `json:"expected_size"`
}

// NewLink creates a remote link binding contentID to the artifact published
// at relPath. Pass a nil artifactID for deferred or streamed content.
func NewLink(contentID id.ContentID, relPath string, artifactID id.ArtifactID) *RemoteLink {
	return &RemoteLink{
		Entity:     syncforge.NewEntity(),
		ID:         id.NewLinkID(),
		ContentID:  contentID,
		RelPath:    relPath,
		ArtifactID: artifactID,
	}
}
