package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/task"
)

// recordingExt implements a subset of hooks and counts invocations.
type recordingExt struct {
	started   int
	completed int
	failed    int
	hookErr   error
}

func (r *recordingExt) Name() string { return "recording" }

func (r *recordingExt) OnTaskStarted(_ context.Context, _ *task.Task) error {
	r.started++
	return r.hookErr
}

func (r *recordingExt) OnTaskCompleted(_ context.Context, _ *task.Task, _ time.Duration) error {
	r.completed++
	return r.hookErr
}

func (r *recordingExt) OnTaskFailed(_ context.Context, _ *task.Task, _ error) error {
	r.failed++
	return r.hookErr
}

func TestRegistry_EmitsOnlyImplementedHooks(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	rec := &recordingExt{}
	reg.Register(rec)

	tk := &task.Task{ID: id.NewTaskID(), Name: "sync"}
	ctx := context.Background()

	// Implemented hooks fire.
	reg.EmitTaskStarted(ctx, tk)
	reg.EmitTaskCompleted(ctx, tk, time.Second)
	reg.EmitTaskFailed(ctx, tk, errors.New("x"))

	// Unimplemented hooks are no-ops (must not panic).
	reg.EmitTaskSubmitted(ctx, tk)
	reg.EmitTaskCanceled(ctx, tk)
	reg.EmitTaskOrphaned(ctx, tk)
	reg.EmitContentSaved(ctx, nil, true)
	reg.EmitArtifactFetched(ctx, "sha256:abc", 1)
	reg.EmitShutdown(ctx)

	if rec.started != 1 || rec.completed != 1 || rec.failed != 1 {
		t.Errorf("hook counts = %d/%d/%d, want 1/1/1", rec.started, rec.completed, rec.failed)
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	rec := &recordingExt{hookErr: errors.New("hook exploded")}
	reg.Register(rec)

	// Must not panic or propagate.
	reg.EmitTaskStarted(context.Background(), &task.Task{ID: id.NewTaskID()})
	if rec.started != 1 {
		t.Errorf("started = %d, want 1", rec.started)
	}
}

func TestRegistry_MultipleExtensionsInOrder(t *testing.T) {
	reg := ext.NewRegistry(slog.Default())
	a := &recordingExt{}
	b := &recordingExt{}
	reg.Register(a)
	reg.Register(b)

	reg.EmitTaskStarted(context.Background(), &task.Task{ID: id.NewTaskID()})
	if a.started != 1 || b.started != 1 {
		t.Errorf("started = %d/%d, want 1/1", a.started, b.started)
	}
	if len(reg.Extensions()) != 2 {
		t.Errorf("Extensions() len = %d, want 2", len(reg.Extensions()))
	}
}
