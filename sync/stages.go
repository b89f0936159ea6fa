package sync

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/pipeline"
)

// resolverBatch is how many items the resolver accumulates before issuing
// one batched store lookup.
const resolverBatch = 50

// membershipBatch is how many content IDs the membership stage accumulates
// per AddToRepository call.
const membershipBatch = 100

// resolverStage batches incoming declarations and rebinds them to persisted
// content and artifact rows, so duplicate units are never re-fetched or
// re-saved.
type resolverStage struct {
	store  content.Store
	logger *slog.Logger
}

func (s *resolverStage) Name() string { return "resolver" }

func (s *resolverStage) Run(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error {
	batch := make([]*content.Declarative, 0, resolverBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.resolve(ctx, batch); err != nil {
			return err
		}
		for _, d := range batch {
			if err := pipeline.Send(ctx, out, d); err != nil {
				return err
			}
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return flush()
			}
			batch = append(batch, d)
			if len(batch) >= resolverBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// resolve issues one FindContent and one FindArtifacts query for the batch
// and rebinds any declaration already backed by a persisted row.
func (s *resolverStage) resolve(ctx context.Context, batch []*content.Declarative) error {
	byType := make(map[string][]content.Key)
	var digests []string
	seen := make(map[string]struct{})
	for _, d := range batch {
		byType[d.Type] = append(byType[d.Type], d.Key)
		for _, da := range d.Artifacts {
			if da.ExpectedDigest == "" {
				continue
			}
			if _, dup := seen[da.ExpectedDigest]; dup {
				continue
			}
			seen[da.ExpectedDigest] = struct{}{}
			digests = append(digests, da.ExpectedDigest)
		}
	}

	existing := make(map[string]map[string]*content.Content, len(byType))
	for contentType, keys := range byType {
		found, err := s.store.FindContent(ctx, contentType, keys)
		if err != nil {
			return fmt.Errorf("find content: %w", err)
		}
		existing[contentType] = found
	}

	var artifacts map[string]*content.Artifact
	if len(digests) > 0 {
		var err error
		artifacts, err = s.store.FindArtifacts(ctx, digests)
		if err != nil {
			return fmt.Errorf("find artifacts: %w", err)
		}
	}

	for _, d := range batch {
		if c, ok := existing[d.Type][d.Key.Canonical()]; ok {
			d.Content = c
		}
		for _, da := range d.Artifacts {
			if a, ok := artifacts[da.ExpectedDigest]; ok {
				da.Artifact = a
			}
		}
	}
	return nil
}

// downloaderStage fetches and verifies artifact bytes under a concurrency
// bound. Items with deferred or streamed policy pass through untouched, as
// do individual artifacts declared deferred.
// A digest or size mismatch is recorded against the item; the stage only
// fails on transport exhaustion or storage errors.
type downloaderStage struct {
	fetch       *artifactFetcher
	policy      content.Policy
	concurrency int64
	report      *Report
	logger      *slog.Logger
}

func (s *downloaderStage) Name() string { return "downloader" }

func (s *downloaderStage) Run(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error {
	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(s.concurrency)

	for {
		var d *content.Declarative
		var ok bool
		select {
		case <-ctx.Done():
			// A failed download goroutine cancels the group context;
			// surface its error, or the cancellation itself.
			if err := g.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case d, ok = <-in:
		}
		if !ok {
			return g.Wait()
		}

		if d.Err != nil || s.policy != content.PolicyImmediate {
			if s.policy != content.PolicyImmediate {
				for _, da := range d.Artifacts {
					if !da.Resolved() {
						s.report.addDeferred()
					}
				}
			}
			if err := pipeline.Send(ctx, out, d); err != nil {
				if werr := g.Wait(); werr != nil {
					return werr
				}
				return err
			}
			continue
		}

		item := d
		g.Go(func() error {
			for _, da := range item.Artifacts {
				if da.Resolved() {
					continue
				}
				if da.Deferred {
					// Declared lazy: the saver persists an unbound link
					// regardless of the run policy.
					s.report.addDeferred()
					continue
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				err := s.fetch.fetchArtifact(ctx, da)
				sem.Release(1)
				if err != nil {
					if isContentError(err) {
						s.logger.Warn("artifact rejected",
							slog.String("url", da.URL),
							slog.String("error", err.Error()),
						)
						item.Fail(fmt.Errorf("%s: %w", da.URL, err))
						s.report.addContentError(item.Err)
						break
					}
					return err
				}
				s.report.addFetched(da.Artifact.Size)
			}
			return pipeline.Send(ctx, out, item)
		})
	}
}

// saverStage persists new units with create-if-absent semantics, resolves
// each item's future, and reports created versus reused rows.
type saverStage struct {
	store  content.Store
	report *Report
	emit   func(ctx context.Context, c *content.Content, created bool)
	logger *slog.Logger
}

func (s *saverStage) Name() string { return "saver" }

func (s *saverStage) Run(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return nil
			}
			if d.Err != nil {
				// Failed items flow through for accounting but are
				// never persisted.
				if err := pipeline.Send(ctx, out, d); err != nil {
					return err
				}
				continue
			}
			if err := s.save(ctx, d); err != nil {
				return err
			}
			if err := pipeline.Send(ctx, out, d); err != nil {
				return err
			}
		}
	}
}

func (s *saverStage) save(ctx context.Context, d *content.Declarative) error {
	if d.Resolved() {
		// Rebound by the resolver; nothing to persist.
		s.report.addReused()
		s.emit(ctx, d.Content, false)
		d.Resolve(d.Content)
		return nil
	}

	c := content.New(d.Type, d.Key)
	unit := &content.Unit{Content: c}
	for _, da := range d.Artifacts {
		link := content.NewLink(c.ID, da.RelPath, id.ArtifactID{})
		link.URL = da.URL
		link.ExpectedDigest = da.ExpectedDigest
		link.ExpectedSize = da.ExpectedSize
		if da.Resolved() {
			unit.Artifacts = append(unit.Artifacts, da.Artifact)
			link.ArtifactID = da.Artifact.ID
		}
		unit.Links = append(unit.Links, link)
	}

	if err := s.store.SaveUnit(ctx, unit); err != nil {
		return fmt.Errorf("save unit %s: %w", d.Key.Canonical(), err)
	}

	created := unit.Content.ID == c.ID
	if created {
		s.report.addCreated()
	} else {
		s.report.addReused()
	}
	s.emit(ctx, unit.Content, created)
	d.Resolve(unit.Content)
	return nil
}

// membershipStage records repository membership for every persisted item,
// in batches. Membership writes are idempotent so replays are harmless.
type membershipStage struct {
	store      content.Store
	repository string
	logger     *slog.Logger
}

func (s *membershipStage) Name() string { return "membership" }

func (s *membershipStage) Run(ctx context.Context, in <-chan *content.Declarative, _ chan<- *content.Declarative) error {
	ids := make([]id.ContentID, 0, membershipBatch)

	flush := func() error {
		if len(ids) == 0 {
			return nil
		}
		if err := s.store.AddToRepository(ctx, s.repository, ids); err != nil {
			return fmt.Errorf("add to repository %s: %w", s.repository, err)
		}
		ids = ids[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-in:
			if !ok {
				return flush()
			}
			if d.Err != nil || d.Content == nil {
				continue
			}
			ids = append(ids, d.Content.ID)
			if len(ids) >= membershipBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
