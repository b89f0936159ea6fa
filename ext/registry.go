package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type taskSubmittedEntry struct {
	name string
	hook TaskSubmitted
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskFailedEntry struct {
	name string
	hook TaskFailed
}

type taskCanceledEntry struct {
	name string
	hook TaskCanceled
}

type taskOrphanedEntry struct {
	name string
	hook TaskOrphaned
}

type contentSavedEntry struct {
	name string
	hook ContentSaved
}

type artifactFetchedEntry struct {
	name string
	hook ArtifactFetched
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	taskSubmitted   []taskSubmittedEntry
	taskStarted     []taskStartedEntry
	taskCompleted   []taskCompletedEntry
	taskFailed      []taskFailedEntry
	taskCanceled    []taskCanceledEntry
	taskOrphaned    []taskOrphanedEntry
	contentSaved    []contentSavedEntry
	artifactFetched []artifactFetchedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, taskSubmittedEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, h})
	}
	if h, ok := e.(TaskCanceled); ok {
		r.taskCanceled = append(r.taskCanceled, taskCanceledEntry{name, h})
	}
	if h, ok := e.(TaskOrphaned); ok {
		r.taskOrphaned = append(r.taskOrphaned, taskOrphanedEntry{name, h})
	}
	if h, ok := e.(ContentSaved); ok {
		r.contentSaved = append(r.contentSaved, contentSavedEntry{name, h})
	}
	if h, ok := e.(ArtifactFetched); ok {
		r.artifactFetched = append(r.artifactFetched, artifactFetchedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskSubmitted notifies all extensions that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskSubmitted {
		if err := e.hook.OnTaskSubmitted(ctx, t); err != nil {
			r.logHookError("OnTaskSubmitted", e.name, err)
		}
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, t); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskFailed {
		if err := e.hook.OnTaskFailed(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskFailed", e.name, err)
		}
	}
}

// EmitTaskCanceled notifies all extensions that implement TaskCanceled.
func (r *Registry) EmitTaskCanceled(ctx context.Context, t *task.Task) {
	for _, e := range r.taskCanceled {
		if err := e.hook.OnTaskCanceled(ctx, t); err != nil {
			r.logHookError("OnTaskCanceled", e.name, err)
		}
	}
}

// EmitTaskOrphaned notifies all extensions that implement TaskOrphaned.
func (r *Registry) EmitTaskOrphaned(ctx context.Context, t *task.Task) {
	for _, e := range r.taskOrphaned {
		if err := e.hook.OnTaskOrphaned(ctx, t); err != nil {
			r.logHookError("OnTaskOrphaned", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Pipeline event emitters
// ──────────────────────────────────────────────────

// EmitContentSaved notifies all extensions that implement ContentSaved.
func (r *Registry) EmitContentSaved(ctx context.Context, c *content.Content, created bool) {
	for _, e := range r.contentSaved {
		if err := e.hook.OnContentSaved(ctx, c, created); err != nil {
			r.logHookError("OnContentSaved", e.name, err)
		}
	}
}

// EmitArtifactFetched notifies all extensions that implement ArtifactFetched.
func (r *Registry) EmitArtifactFetched(ctx context.Context, digest string, size int64) {
	for _, e := range r.artifactFetched {
		if err := e.hook.OnArtifactFetched(ctx, digest, size); err != nil {
			r.logHookError("OnArtifactFetched", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block execution.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
