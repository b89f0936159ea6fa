package task

import (
	"time"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/resource"
)

// State represents the lifecycle state of a task.
type State string

const (
	// StateWaiting means the task is queued behind its reservation.
	StateWaiting State = "waiting"
	// StateRunning means a worker holds the task's reservation and is
	// executing its body.
	StateRunning State = "running"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the task failed terminally (including worker-lost).
	StateFailed State = "failed"
	// StateCanceled means the task was explicitly canceled.
	StateCanceled State = "canceled"
)

// Terminal reports whether the state is a terminal one.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Task represents a unit of work gated by a resource reservation.
type Task struct {
	syncforge.Entity

	ID      id.TaskID `json:"id"`
	Name    string    `json:"name"`
	Payload []byte    `json:"payload"`
	State   State     `json:"state"`

	// Resources is the declared resource-key set. A running task has
	// exactly one held reservation whose keys are a superset of this.
	Resources resource.Set `json:"resources"`

	// GroupID aggregates this task into a task group (optional).
	GroupID id.GroupID `json:"group_id,omitempty"`

	// WorkerID is the worker currently executing the task.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// CreatedResources are opaque handles to resources the task body
	// created, in creation order, reported at completion.
	CreatedResources []string `json:"created_resources,omitempty"`

	// Report holds per-item content errors (digest mismatches, malformed
	// metadata) that were recorded without aborting the task.
	Report []string `json:"report,omitempty"`

	// Error is the captured cause for failed tasks.
	Error string `json:"error,omitempty"`

	// CancelRequested is set on a running task when cancellation is
	// requested; the signal is advisory and observed at suspension points.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Timeout is the maximum duration the body may run (zero = unlimited).
	Timeout time.Duration `json:"timeout,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Result is what a task handler returns on success.
type Result struct {
	// CreatedResources are opaque handles to created resources, in order.
	CreatedResources []string

	// ContentErrors are per-item errors that did not abort the task body.
	ContentErrors []string
}

// Group aggregates N tasks submitted together. AllTasksDispatched flips
// true exactly once, set explicitly by the dispatching logic when no
// further tasks will be added; consumers poll it plus per-task states to
// detect group completion.
type Group struct {
	syncforge.Entity

	ID                 id.GroupID `json:"id"`
	AllTasksDispatched bool       `json:"all_tasks_dispatched"`
}

// GroupStatus is the aggregate view of a group and its tasks.
type GroupStatus struct {
	AllTasksDispatched bool    `json:"all_tasks_dispatched"`
	Tasks              []*Task `json:"tasks"`
}

// Done reports whether the group is complete: all tasks dispatched and
// every task in a terminal state.
func (gs *GroupStatus) Done() bool {
	if !gs.AllTasksDispatched {
		return false
	}
	for _, t := range gs.Tasks {
		if !t.State.Terminal() {
			return false
		}
	}
	return true
}
