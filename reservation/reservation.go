// Package reservation defines the durable reservation ledger — the table of
// in-flight grants of exclusive access to sets of resource keys, and the
// store contract that enforces mutual exclusion between them.
package reservation

import (
	"time"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/resource"
)

// State represents the lifecycle state of a reservation.
type State string

const (
	// StateQueued means the reservation is waiting for overlapping held
	// reservations to release.
	StateQueued State = "queued"
	// StateHeld means the reservation currently grants exclusive access to
	// its resource keys. For any two reservations with overlapping keys, at
	// most one is ever held.
	StateHeld State = "held"
	// StateReleased means the reservation has been released (task reached a
	// terminal state, or an orphan sweep reclaimed it).
	StateReleased State = "released"
)

// Reservation is a grant of exclusive access to a set of resource keys for
// the duration of one task.
type Reservation struct {
	syncforge.Entity

	ID     id.ReservationID `json:"id"`
	TaskID id.TaskID        `json:"task_id"`
	Keys   resource.Set     `json:"resource_keys"`
	State  State            `json:"state"`

	// AcquiredAt is the serialization timestamp recorded when the
	// reservation transitioned to held. An acquire is only durable once
	// this timestamp has been verified strictly greater than the ledger's
	// per-key watermark, guarding against clock skew across machines.
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
}

// New creates a queued reservation for the given task and keys.
func New(taskID id.TaskID, keys resource.Set) *Reservation {
	return &Reservation{
		Entity: syncforge.NewEntity(),
		ID:     id.NewReservationID(),
		TaskID: taskID,
		Keys:   keys,
		State:  StateQueued,
	}
}
