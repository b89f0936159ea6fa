// Package pipeline runs an ordered list of stages connected by bounded
// channels, one goroutine per stage.
//
// The first stage has no input and drives discovery; each downstream stage
// consumes its predecessor's output. Bounded channel capacity throttles a
// fast producer behind a slow consumer — a stage never busy-loops on a full
// output, it suspends in a channel send. Termination propagates by closure:
// the first stage closes its output when discovery is exhausted, and every
// downstream stage sees its input drain and close in turn, so the pipeline
// finishes exactly when everything produced by stage one has flowed through
// the final stage. A fatal error in any stage cancels the shared context,
// unblocking every other stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/syncforge/syncforge/content"
)

// DefaultCapacity is the default bound of the channels between stages.
const DefaultCapacity = 100

// Stage is one unit of the content pipeline. It consumes declarative items
// from in (nil for the first stage) and produces to out (nil for the final
// stage). A stage may buffer or batch internally, but forwards items so
// that everything consumed is accounted for downstream. Returning a non-nil
// error is fatal to the whole pipeline.
//
// Stages must not close out — the pipeline does that when Run returns.
type Stage interface {
	Name() string
	Run(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error
}

// Name implements Stage.
func (s StageFunc) Name() string { return s.StageName }

// Run implements Stage.
func (s StageFunc) Run(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error {
	return s.Fn(ctx, in, out)
}

// Pipeline is an ordered list of stages wired with bounded channels.
type Pipeline struct {
	stages   []Stage
	capacity int
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCapacity sets the bound of the inter-stage channels.
func WithCapacity(n int) Option {
	return func(p *Pipeline) { p.capacity = n }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline over the given stages, in order.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:   stages,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drives all stages concurrently and blocks until the pipeline
// terminates: either every item has flowed through the final stage, or a
// stage returned a fatal error (which cancels the rest).
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.stages) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	var in <-chan *content.Declarative // nil input for the first stage
	for i, s := range p.stages {
		var out chan *content.Declarative
		if i < len(p.stages)-1 {
			out = make(chan *content.Declarative, p.capacity)
		}

		stage := s
		stageIn := in
		stageOut := out
		g.Go(func() error {
			if stageOut != nil {
				// Closing the output after the stage drains its input is
				// what propagates termination downstream.
				defer close(stageOut)
			}
			if err := stage.Run(ctx, stageIn, stageOut); err != nil {
				p.logger.Debug("pipeline stage failed",
					slog.String("stage", stage.Name()),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
			return nil
		})

		in = out
	}

	return g.Wait()
}

// Send forwards an item to out, suspending while the channel is full.
// It returns the context error if the pipeline is canceled first.
func Send(ctx context.Context, out chan<- *content.Declarative, d *content.Declarative) error {
	select {
	case out <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
