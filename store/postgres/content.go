package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/id"
)

const contentColumns = `id, type, key, created_at, updated_at`
const artifactColumns = `id, digest, size, created_at, updated_at`
const linkColumns = `
	id, content_id, rel_path, artifact_id, url, expected_digest, expected_size,
	created_at, updated_at`

// FindContent returns persisted content rows matching the given natural
// keys within a content type, indexed by Key.Canonical().
func (s *Store) FindContent(ctx context.Context, contentType string, keys []content.Key) (map[string]*content.Content, error) {
	if len(keys) == 0 {
		return map[string]*content.Content{}, nil
	}

	canonicals := make([]string, len(keys))
	for i, k := range keys {
		canonicals[i] = k.Canonical()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key_canonical, `+contentColumns+`
		FROM syncforge_content
		WHERE type = $1 AND key_canonical = ANY($2)`,
		contentType, canonicals,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: find content: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*content.Content)
	for rows.Next() {
		var (
			canonical string
			c         content.Content
			keyJSON   []byte
		)
		if err = rows.Scan(&canonical, &c.ID, &c.Type, &keyJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan content row: %w", err)
		}
		if err = json.Unmarshal(keyJSON, &c.Key); err != nil {
			return nil, fmt.Errorf("syncforge/postgres: decode content key: %w", err)
		}
		found[canonical] = &c
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate content rows: %w", err)
	}
	return found, nil
}

// FindArtifacts returns persisted artifact rows for the given digests,
// indexed by digest.
func (s *Store) FindArtifacts(ctx context.Context, digests []string) (map[string]*content.Artifact, error) {
	if len(digests) == 0 {
		return map[string]*content.Artifact{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM syncforge_artifacts WHERE digest = ANY($1)`,
		digests,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: find artifacts: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*content.Artifact)
	for rows.Next() {
		a, scanErr := scanArtifact(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan artifact row: %w", scanErr)
		}
		found[a.Digest] = a
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate artifact rows: %w", err)
	}
	return found, nil
}

// SaveUnit atomically persists a unit with create-if-absent semantics.
// Each row is inserted with ON CONFLICT DO NOTHING and the winning row
// reselected, so concurrent saves of the same natural key or digest
// converge on one row; the unit's pointers are rebound to whichever rows
// won.
func (s *Store) SaveUnit(ctx context.Context, u *content.Unit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: begin save unit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	winner, err := createContentIfAbsent(ctx, tx, u.Content)
	if err != nil {
		return err
	}
	u.Content = winner

	// Dedup artifacts by digest; remap rebinds links from the losing
	// artifact row's id to the winning one.
	remapped := make(map[string]id.ArtifactID)
	for i, a := range u.Artifacts {
		aw, awErr := createArtifactIfAbsent(ctx, tx, a)
		if awErr != nil {
			return awErr
		}
		if aw.ID != a.ID {
			remapped[a.ID.String()] = aw.ID
		}
		u.Artifacts[i] = aw
	}

	for i, l := range u.Links {
		l.ContentID = u.Content.ID
		if !l.ArtifactID.IsNil() {
			if newID, ok := remapped[l.ArtifactID.String()]; ok {
				l.ArtifactID = newID
			}
		}

		tag, insErr := tx.Exec(ctx, `
			INSERT INTO syncforge_links (
				id, content_id, rel_path, artifact_id, url,
				expected_digest, expected_size, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (content_id, rel_path) DO NOTHING`,
			l.ID, l.ContentID, l.RelPath, l.ArtifactID, l.URL,
			l.ExpectedDigest, l.ExpectedSize, l.CreatedAt, l.UpdatedAt,
		)
		if insErr != nil {
			return fmt.Errorf("syncforge/postgres: insert link: %w", insErr)
		}
		if tag.RowsAffected() == 0 {
			row := tx.QueryRow(ctx, `
				SELECT`+linkColumns+`
				FROM syncforge_links
				WHERE content_id = $1 AND rel_path = $2`,
				l.ContentID, l.RelPath,
			)
			existing, selErr := scanLink(row)
			if selErr != nil {
				return fmt.Errorf("syncforge/postgres: reselect link: %w", selErr)
			}
			u.Links[i] = existing
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("syncforge/postgres: commit save unit: %w", err)
	}
	return nil
}

// CreateArtifactIfAbsent persists an artifact row keyed by digest,
// returning the existing row when the digest is already stored.
func (s *Store) CreateArtifactIfAbsent(ctx context.Context, a *content.Artifact) (*content.Artifact, error) {
	return createArtifactIfAbsent(ctx, s.pool, a)
}

func createContentIfAbsent(ctx context.Context, q querier, c *content.Content) (*content.Content, error) {
	keyJSON, err := json.Marshal(c.Key)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: encode content key: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO syncforge_content (id, type, key_canonical, key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (type, key_canonical) DO NOTHING`,
		c.ID, c.Type, c.Key.Canonical(), keyJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: insert content: %w", err)
	}

	var (
		winner  content.Content
		winJSON []byte
	)
	err = q.QueryRow(ctx, `
		SELECT `+contentColumns+`
		FROM syncforge_content
		WHERE type = $1 AND key_canonical = $2`,
		c.Type, c.Key.Canonical(),
	).Scan(&winner.ID, &winner.Type, &winJSON, &winner.CreatedAt, &winner.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: reselect content: %w", err)
	}
	if err = json.Unmarshal(winJSON, &winner.Key); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: decode content key: %w", err)
	}
	return &winner, nil
}

func createArtifactIfAbsent(ctx context.Context, q querier, a *content.Artifact) (*content.Artifact, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO syncforge_artifacts (id, digest, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (digest) DO NOTHING`,
		a.ID, a.Digest, a.Size, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: insert artifact: %w", err)
	}

	row := q.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM syncforge_artifacts WHERE digest = $1`,
		a.Digest,
	)
	winner, err := scanArtifact(row)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: reselect artifact: %w", err)
	}
	return winner, nil
}

// GetLink retrieves a remote link by ID.
func (s *Store) GetLink(ctx context.Context, linkID id.LinkID) (*content.RemoteLink, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+linkColumns+` FROM syncforge_links WHERE id = $1`,
		linkID,
	)
	l, err := scanLink(row)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrLinkNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get link: %w", err)
	}
	return l, nil
}

// ListLinks returns the remote links of a content unit.
func (s *Store) ListLinks(ctx context.Context, contentID id.ContentID) ([]*content.RemoteLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+linkColumns+` FROM syncforge_links WHERE content_id = $1 ORDER BY rel_path ASC`,
		contentID,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list links: %w", err)
	}
	defer rows.Close()

	var links []*content.RemoteLink
	for rows.Next() {
		l, scanErr := scanLink(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan link row: %w", scanErr)
		}
		links = append(links, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate link rows: %w", err)
	}
	return links, nil
}

// BindLinkArtifact sets the artifact backing a previously null link.
func (s *Store) BindLinkArtifact(ctx context.Context, linkID id.LinkID, artifactID id.ArtifactID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE syncforge_links SET artifact_id = $2, updated_at = NOW() WHERE id = $1`,
		linkID, artifactID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: bind link artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return syncforge.ErrLinkNotFound
	}
	return nil
}

// AddToRepository records repository membership for the given content.
// The operation is idempotent and order-independent.
func (s *Store) AddToRepository(ctx context.Context, repository string, contentIDs []id.ContentID) error {
	if len(contentIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: begin add to repository: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, cid := range contentIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO syncforge_repository_content (repository, content_id)
			VALUES ($1, $2)
			ON CONFLICT (repository, content_id) DO NOTHING`,
			repository, cid,
		)
		if err != nil {
			return fmt.Errorf("syncforge/postgres: add to repository: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("syncforge/postgres: commit add to repository: %w", err)
	}
	return nil
}

// ListRepositoryContent returns the IDs of all content in a repository.
func (s *Store) ListRepositoryContent(ctx context.Context, repository string) ([]id.ContentID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content_id FROM syncforge_repository_content
		WHERE repository = $1
		ORDER BY added_at ASC, content_id ASC`,
		repository,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list repository content: %w", err)
	}
	defer rows.Close()

	var ids []id.ContentID
	for rows.Next() {
		var cid id.ContentID
		if err = rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan repository row: %w", err)
		}
		ids = append(ids, cid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate repository rows: %w", err)
	}
	return ids, nil
}

// CountContent returns the number of persisted content rows of a type.
func (s *Store) CountContent(ctx context.Context, contentType string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM syncforge_content WHERE type = $1`,
		contentType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("syncforge/postgres: count content: %w", err)
	}
	return count, nil
}

// scanArtifact scans a single artifact row.
func scanArtifact(row pgx.Row) (*content.Artifact, error) {
	var a content.Artifact
	err := row.Scan(&a.ID, &a.Digest, &a.Size, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// scanLink scans a single link row.
func scanLink(row pgx.Row) (*content.RemoteLink, error) {
	var l content.RemoteLink
	err := row.Scan(
		&l.ID, &l.ContentID, &l.RelPath, &l.ArtifactID, &l.URL,
		&l.ExpectedDigest, &l.ExpectedSize, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
