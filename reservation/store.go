package reservation

import (
	"context"
	"time"

	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/resource"
)

// Store defines the persistence contract for the reservation ledger.
//
// Implementations must take the per-key advisory locks of a reservation's
// key set in sorted lock-id order, one at a time, so that two callers whose
// resource sets overlap partially cannot deadlock.
type Store interface {
	// CreateReservation persists a new reservation in queued state.
	CreateReservation(ctx context.Context, r *Reservation) error

	// AcquireReservation atomically attempts to transition a queued
	// reservation to held with the given serialization timestamp.
	//
	// The attempt fails with syncforge.ErrReservationConflict when an
	// overlapping reservation is held, or when acquiredAt is not strictly
	// greater than the ledger's watermark for every key in the set (clock
	// skew between machines would otherwise let two overlapping grants
	// serialize out of order). Callers retry conflicts with a fresh
	// timestamp.
	AcquireReservation(ctx context.Context, reservationID id.ReservationID, acquiredAt time.Time) error

	// ReleaseReservation transitions a reservation to released, making its
	// keys acquirable by queued reservations.
	ReleaseReservation(ctx context.Context, reservationID id.ReservationID) error

	// ReleaseReservationByTask releases the reservation owned by the given
	// task, if any. Used on terminal task states and orphan reclamation.
	ReleaseReservationByTask(ctx context.Context, taskID id.TaskID) error

	// GetReservationByTask returns the reservation owned by the given task.
	GetReservationByTask(ctx context.Context, taskID id.TaskID) (*Reservation, error)

	// IsHeld reports whether any held reservation overlaps the given keys.
	IsHeld(ctx context.Context, keys resource.Set) (bool, error)

	// ListReservations returns all non-released reservations ordered by
	// creation time (the FIFO grant order per key).
	ListReservations(ctx context.Context) ([]*Reservation, error)
}
