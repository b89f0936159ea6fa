// Package engine wires all syncforge subsystems together. It creates the
// extension registry, task registry, middleware chain, worker pool, and
// content syncer, and provides Register/Submit operations.
//
// This package exists to break the import cycle: the root syncforge package
// defines Entity (imported by task, content, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem packages
// and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/blob"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/fetch"
	"github.com/syncforge/syncforge/id"
	mw "github.com/syncforge/syncforge/middleware"
	"github.com/syncforge/syncforge/observability"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/resource"
	"github.com/syncforge/syncforge/sync"
	"github.com/syncforge/syncforge/task"
	"github.com/syncforge/syncforge/worker"
)

// Engine wraps a Coordinator with typed subsystem access.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *syncforge.Coordinator
	extensions *ext.Registry
	registry   *task.Registry
	store      worker.Store
	contents   content.Store
	blobs      blob.Store
	syncer     *sync.Syncer
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBlobStore sets the blob store for artifact bytes. Defaults to the
// in-memory store, which is only suitable for tests and development.
func WithBlobStore(b blob.Store) Option {
	return func(eng *Engine) {
		eng.blobs = b
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator.
// The Coordinator's store must implement the composite store interface.
func Build(c *syncforge.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, syncforge.ErrNoStore
	}

	ws, ok := store.(worker.Store)
	if !ok {
		return nil, fmt.Errorf("syncforge: store does not implement the task, reservation, and cluster stores")
	}
	cs, ok := store.(content.Store)
	if !ok {
		return nil, fmt.Errorf("syncforge: store does not implement content.Store")
	}

	eng := &Engine{
		c:          c,
		extensions: ext.NewRegistry(logger),
		registry:   task.NewRegistry(),
		store:      ws,
		contents:   cs,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.blobs == nil {
		eng.blobs = blob.NewMemory()
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/syncforge/syncforge")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncforge/syncforge")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/syncforge/syncforge/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	config := c.Config()
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.store, logger, allMws...)

	eng.pool = worker.NewPool(
		eng.store,
		executor,
		eng.extensions,
		logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithMaxPollInterval(config.MaxPollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithWorkerTTL(config.WorkerTTL),
		worker.WithSweepInterval(config.SweepInterval),
	)

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetHooks(eng.extensions)

	// Content syncer shares the pool's fetch and hook configuration.
	fetcher := fetch.NewHTTPFetcher(
		fetch.WithMaxRetries(config.TransportRetries),
		fetch.WithLogger(logger),
	)
	eng.syncer = sync.NewSyncer(cs, eng.blobs,
		sync.WithFetcher(fetcher),
		sync.WithHooks(eng.extensions),
		sync.WithLogger(logger),
		sync.WithDownloadConcurrency(config.DownloadConcurrency),
	)

	return eng, nil
}

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// Submit creates and persists a task gated by the given resource keys.
func Submit[T any](ctx context.Context, eng *Engine, name string, payload T, resources []string, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", name, err)
	}
	return eng.SubmitRaw(ctx, name, data, resources, opts...)
}

// SubmitRaw persists a task with a pre-serialized payload. The task and its
// queued reservation are created atomically; the task starts in waiting
// state and is promoted by whichever worker wins its reservation.
func (eng *Engine) SubmitRaw(ctx context.Context, name string, payload []byte, resources []string, opts ...task.Option) (*task.Task, error) {
	taskOpts := task.DefaultOptions()
	for _, opt := range opts {
		opt(&taskOpts)
	}

	t := &task.Task{
		Entity:    syncforge.NewEntity(),
		ID:        id.NewTaskID(),
		Name:      name,
		Payload:   payload,
		State:     task.StateWaiting,
		Resources: resource.FromStrings(resources),
		GroupID:   taskOpts.GroupID,
		Timeout:   taskOpts.Timeout,
	}
	r := reservation.New(t.ID, t.Resources)

	if err := eng.store.SubmitTask(ctx, t, r); err != nil {
		return nil, err
	}

	eng.extensions.EmitTaskSubmitted(ctx, t)
	return t, nil
}

// Status returns the current persisted view of a task.
func (eng *Engine) Status(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return eng.store.GetTask(ctx, taskID)
}

// Cancel cancels a task. Waiting tasks are canceled outright; running
// tasks receive the advisory flag and settle at their next suspension
// point. Terminal tasks return syncforge.ErrInvalidState.
func (eng *Engine) Cancel(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return eng.store.CancelTask(ctx, taskID)
}

// NewGroup creates a task group for aggregating related submissions.
func (eng *Engine) NewGroup(ctx context.Context) (*task.Group, error) {
	g := &task.Group{
		Entity: syncforge.NewEntity(),
		ID:     id.NewGroupID(),
	}
	if err := eng.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// FinishGroup marks the group as fully dispatched: no further tasks may
// join it. The flag flips exactly once; a second call returns
// syncforge.ErrGroupFinished.
func (eng *Engine) FinishGroup(ctx context.Context, groupID id.GroupID) error {
	return eng.store.FinishGroup(ctx, groupID)
}

// GroupStatus returns the aggregate view of a group and its tasks.
func (eng *Engine) GroupStatus(ctx context.Context, groupID id.GroupID) (*task.GroupStatus, error) {
	g, err := eng.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	tasks, err := eng.store.ListGroupTasks(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &task.GroupStatus{
		AllTasksDispatched: g.AllTasksDispatched,
		Tasks:              tasks,
	}, nil
}

// Start begins task processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine: the pool drains, lifecycle hooks
// observe the shutdown, and the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *syncforge.Coordinator { return eng.c }

// Syncer returns the content syncer for declarative pipelines.
func (eng *Engine) Syncer() *sync.Syncer { return eng.syncer }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
