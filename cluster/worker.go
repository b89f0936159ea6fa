package cluster

import (
	"time"

	"github.com/syncforge/syncforge/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing tasks.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight tasks
	// but not claiming new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker stopped heartbeating and its tasks
	// have been (or are being) reclaimed.
	WorkerDead WorkerState = "dead"
)

// Worker represents one worker process in the cluster.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	IsLeader    bool        `json:"is_leader"`
	LeaderUntil *time.Time  `json:"leader_until,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}
