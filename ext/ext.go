package ext

import (
	"context"
	"time"

	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSubmitted is called after a task is persisted as waiting.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker claims a task and its reservation
// is held.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task body finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task fails terminally.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskCanceled is called when a task is canceled.
type TaskCanceled interface {
	OnTaskCanceled(ctx context.Context, t *task.Task) error
}

// TaskOrphaned is called when the sweeper reclaims a task from a worker
// that stopped heartbeating.
type TaskOrphaned interface {
	OnTaskOrphaned(ctx context.Context, t *task.Task) error
}

// ──────────────────────────────────────────────────
// Pipeline lifecycle hooks
// ──────────────────────────────────────────────────

// ContentSaved is called after a content unit is persisted (or rebound to
// an existing row) by the saver stage.
type ContentSaved interface {
	OnContentSaved(ctx context.Context, c *content.Content, created bool) error
}

// ArtifactFetched is called after artifact bytes are fetched, verified,
// and stored.
type ArtifactFetched interface {
	OnArtifactFetched(ctx context.Context, digest string, size int64) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
