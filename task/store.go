package task

import (
	"context"
	"time"

	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/reservation"
)

// ListOpts controls pagination for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
}

// CountOpts controls filtering for task count queries.
type CountOpts struct {
	// State filters by task state. Empty means all states.
	State State
}

// Store defines the persistence contract for tasks and task groups.
type Store interface {
	// SubmitTask atomically persists a new waiting task together with its
	// queued reservation. Returns syncforge.ErrGroupFinished when the task
	// names a group whose AllTasksDispatched flag is already set.
	SubmitTask(ctx context.Context, t *Task, r *reservation.Reservation) error

	// ClaimTasks promotes up to limit waiting tasks to running for the
	// given worker. Promotion walks waiting tasks oldest-first and grants
	// each task's reservation only if none of its keys is held or wanted
	// by an earlier waiting task (FIFO per key, so unrelated resource sets
	// never starve each other). Reservation acquisition performs the
	// clock-skew check; conflicts are retried internally with a fresh
	// timestamp and never surface.
	ClaimTasks(ctx context.Context, workerID id.WorkerID, limit int) ([]*Task, error)

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task.
	UpdateTask(ctx context.Context, t *Task) error

	// CancelTask cancels a task. A waiting task transitions to canceled
	// and its reservation is released without ever being held. For a
	// running task the request is advisory: CancelRequested is set and the
	// executing worker observes it at its next suspension point. Canceling
	// a terminal task returns syncforge.ErrInvalidState.
	CancelTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// ListTasksByState returns tasks in the given state ordered by
	// creation time.
	ListTasksByState(ctx context.Context, state State, opts ListOpts) ([]*Task, error)

	// CountTasks returns the number of tasks matching the given options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)

	// ReapOrphanedTasks fails every running task whose worker has not
	// heartbeated within ttl, releases the tasks' reservations, and marks
	// the workers dead. The failed tasks are returned with the
	// distinguished worker-lost error recorded. This bounds the blast
	// radius of a hard crash to the tasks that process owned.
	ReapOrphanedTasks(ctx context.Context, ttl time.Duration) ([]*Task, error)

	// CreateGroup persists a new task group.
	CreateGroup(ctx context.Context, g *Group) error

	// GetGroup retrieves a task group by ID.
	GetGroup(ctx context.Context, groupID id.GroupID) (*Group, error)

	// FinishGroup sets AllTasksDispatched. Finishing an already finished
	// group returns syncforge.ErrGroupFinished — the flag flips exactly
	// once.
	FinishGroup(ctx context.Context, groupID id.GroupID) error

	// ListGroupTasks returns all tasks in the group ordered by creation
	// time.
	ListGroupTasks(ctx context.Context, groupID id.GroupID) ([]*Task, error)
}
