package sync

import (
	"context"
	"log/slog"

	"github.com/syncforge/syncforge/blob"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/fetch"
	"github.com/syncforge/syncforge/pipeline"
)

// DiscoverFunc produces the declarative view of a remote: it parses remote
// metadata and emits one Declarative per content unit. Emit suspends when
// the pipeline is backlogged; returning its error promptly is what lets a
// canceled run terminate.
type DiscoverFunc func(ctx context.Context, emit func(*content.Declarative) error) error

// Syncer drives declarative content pipelines against a store, a blob
// store, and a fetcher.
type Syncer struct {
	store       content.Store
	blobs       blob.Store
	fetcher     fetch.Fetcher
	hooks       *ext.Registry
	logger      *slog.Logger
	concurrency int64
	capacity    int
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithFetcher replaces the default HTTP fetcher.
func WithFetcher(f fetch.Fetcher) SyncerOption {
	return func(s *Syncer) { s.fetcher = f }
}

// WithHooks attaches an extension registry for lifecycle events.
func WithHooks(r *ext.Registry) SyncerOption {
	return func(s *Syncer) { s.hooks = r }
}

// WithLogger sets the syncer's logger.
func WithLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = l }
}

// WithDownloadConcurrency bounds the number of simultaneous artifact
// downloads per run.
func WithDownloadConcurrency(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = int64(n)
		}
	}
}

// WithChannelCapacity sets the bound of the pipeline's inter-stage channels.
func WithChannelCapacity(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewSyncer creates a Syncer over the given content and blob stores.
func NewSyncer(store content.Store, blobs blob.Store, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		store:       store,
		blobs:       blobs,
		fetcher:     fetch.NewHTTPFetcher(),
		logger:      slog.Default(),
		concurrency: 8,
		capacity:    pipeline.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs one declarative sync of repository under the given fetch
// policy. discover feeds the pipeline; the returned report reflects
// everything persisted, reused, fetched, and rejected. Sync blocks until
// every emitted item has flowed through the final stage or a stage fails.
//
// Callers must hold the repository's reservation for the duration.
func (s *Syncer) Sync(ctx context.Context, repository string, policy content.Policy, discover DiscoverFunc) (*Report, error) {
	report := &Report{}

	discovery := pipeline.StageFunc{
		StageName: "discovery",
		Fn: func(ctx context.Context, _ <-chan *content.Declarative, out chan<- *content.Declarative) error {
			return discover(ctx, func(d *content.Declarative) error {
				return pipeline.Send(ctx, out, d)
			})
		},
	}

	stages := []pipeline.Stage{
		discovery,
		&resolverStage{store: s.store, logger: s.logger},
		&downloaderStage{
			fetch: &artifactFetcher{
				fetcher: s.fetcher,
				blobs:   s.blobs,
				emit:    s.emitArtifactFetched,
			},
			policy:      policy,
			concurrency: s.concurrency,
			report:      report,
			logger:      s.logger,
		},
		&saverStage{
			store:  s.store,
			report: report,
			emit:   s.emitContentSaved,
			logger: s.logger,
		},
		&membershipStage{
			store:      s.store,
			repository: repository,
			logger:     s.logger,
		},
	}

	p := pipeline.New(stages,
		pipeline.WithCapacity(s.capacity),
		pipeline.WithLogger(s.logger),
	)
	if err := p.Run(ctx); err != nil {
		return report, err
	}

	s.logger.Info("sync finished",
		slog.String("repository", repository),
		slog.Int("created", report.Created),
		slog.Int("reused", report.Reused),
		slog.Int("fetched", report.Fetched),
		slog.Int("content_errors", len(report.ContentErrors())),
	)
	return report, nil
}

func (s *Syncer) emitContentSaved(ctx context.Context, c *content.Content, created bool) {
	if s.hooks != nil {
		s.hooks.EmitContentSaved(ctx, c, created)
	}
}

func (s *Syncer) emitArtifactFetched(ctx context.Context, digest string, size int64) {
	if s.hooks != nil {
		s.hooks.EmitArtifactFetched(ctx, digest, size)
	}
}
