// Package worker provides the task execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that claims
// tasks, heartbeats, and sweeps orphans left by crashed workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/middleware"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/task"
)

// Store is the persistence surface the execution engine needs: tasks to
// claim and update, reservations to release, and the cluster registry for
// heartbeats and leadership.
type Store interface {
	task.Store
	reservation.Store
	cluster.Store
}

// Executor runs a single claimed task through middleware and the registered
// handler, then settles its terminal state, releases its reservation, and
// emits lifecycle events.
type Executor struct {
	registry   *task.Registry
	extensions *ext.Registry
	store      Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	extensions *ext.Registry,
	store Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed task to a terminal state. The task's reservation
// is released exactly when the terminal state is recorded, never before.
//
// On success: completed, with created resources and per-item content errors
// recorded. On cancellation observed by the handler: canceled. On any other
// error: failed. Task bodies are never retried — a task that failed
// mid-execution may have created resources already.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Name)
	if !ok {
		return e.settleFailed(ctx, t, fmt.Errorf("no handler registered for task %q", t.Name))
	}

	start := time.Now()

	terminal := func(ctx context.Context) (*task.Result, error) {
		return handler(ctx, t.Payload)
	}

	res, err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) && e.cancelRequested(ctx, t) {
			return e.settleCanceled(ctx, t)
		}
		return e.settleFailed(ctx, t, err)
	}

	return e.settleCompleted(ctx, t, res, elapsed)
}

// cancelRequested reports whether an advisory cancel was recorded for the
// task. The claimed copy predates any CancelTask call, so when the local
// flag is unset the store is consulted for the current value.
func (e *Executor) cancelRequested(ctx context.Context, t *task.Task) bool {
	if t.CancelRequested {
		return true
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	fresh, err := e.store.GetTask(rctx, t.ID)
	if err != nil {
		return false
	}
	t.CancelRequested = fresh.CancelRequested
	return t.CancelRequested
}

// settleCompleted records the completed state and the handler's report.
func (e *Executor) settleCompleted(ctx context.Context, t *task.Task, res *task.Result, elapsed time.Duration) error {
	now := time.Now().UTC()
	t.State = task.StateCompleted
	t.FinishedAt = &now
	if res != nil {
		t.CreatedResources = res.CreatedResources
		t.Report = res.ContentErrors
	}

	if err := e.settle(ctx, t); err != nil {
		return err
	}

	e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

// settleFailed records the failed state with the captured cause.
func (e *Executor) settleFailed(ctx context.Context, t *task.Task, taskErr error) error {
	now := time.Now().UTC()
	t.State = task.StateFailed
	t.FinishedAt = &now
	t.Error = taskErr.Error()

	if err := e.settle(ctx, t); err != nil {
		return err
	}

	e.extensions.EmitTaskFailed(ctx, t, taskErr)

	e.logger.Warn("task failed",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.String("error", taskErr.Error()),
	)
	return taskErr
}

// settleCanceled records the canceled state after the handler observed the
// advisory cancellation signal.
func (e *Executor) settleCanceled(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	t.State = task.StateCanceled
	t.FinishedAt = &now

	if err := e.settle(ctx, t); err != nil {
		return err
	}

	e.extensions.EmitTaskCanceled(ctx, t)

	e.logger.Info("task canceled",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
	)
	return nil
}

// settle persists the terminal state and releases the reservation.
func (e *Executor) settle(ctx context.Context, t *task.Task) error {
	// The execution context may already be canceled; terminal bookkeeping
	// still has to land.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}

	if err := e.store.UpdateTask(ctx, t); err != nil {
		e.logger.Error("failed to record terminal task state",
			slog.String("task_id", t.ID.String()),
			slog.String("state", string(t.State)),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err := e.store.ReleaseReservationByTask(ctx, t.ID); err != nil {
		e.logger.Error("failed to release reservation",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
