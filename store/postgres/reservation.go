package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/resource"
)

const reservationColumns = `
	id, task_id, keys, state, acquired_at, created_at, updated_at`

// CreateReservation persists a new reservation in queued state.
func (s *Store) CreateReservation(ctx context.Context, r *reservation.Reservation) error {
	return insertReservation(ctx, s.pool, r)
}

func insertReservation(ctx context.Context, q querier, r *reservation.Reservation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO syncforge_reservations (
			id, task_id, keys, state, acquired_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.TaskID, r.Keys.Strings(), string(r.State),
		r.AcquiredAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return syncforge.ErrTaskAlreadyExists
		}
		return fmt.Errorf("syncforge/postgres: insert reservation: %w", err)
	}
	return nil
}

// AcquireReservation atomically attempts to transition a queued reservation
// to held with the given serialization timestamp. Per-key advisory
// transaction locks are taken in sorted lock-id order before the overlap
// and watermark checks, so partially overlapping acquirers cannot deadlock.
func (s *Store) AcquireReservation(ctx context.Context, reservationID id.ReservationID, acquiredAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: begin acquire: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT`+reservationColumns+` FROM syncforge_reservations WHERE id = $1 FOR UPDATE`,
		reservationID,
	)
	r, err := scanReservation(row)
	if err != nil {
		if isNoRows(err) {
			return syncforge.ErrReservationNotFound
		}
		return fmt.Errorf("syncforge/postgres: get reservation: %w", err)
	}
	if r.State != reservation.StateQueued {
		return syncforge.ErrInvalidState
	}

	if err = lockKeys(ctx, tx, r.Keys); err != nil {
		return err
	}

	held, err := overlapsHeld(ctx, tx, r.Keys, r.ID)
	if err != nil {
		return err
	}
	if held {
		return syncforge.ErrReservationConflict
	}

	wm, err := maxWatermark(ctx, tx, r.Keys)
	if err != nil {
		return err
	}
	if wm != nil && !acquiredAt.After(*wm) {
		return syncforge.ErrReservationConflict
	}

	_, err = tx.Exec(ctx, `
		UPDATE syncforge_reservations
		SET state = 'held', acquired_at = $2, updated_at = NOW()
		WHERE id = $1`,
		r.ID, acquiredAt,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: hold reservation: %w", err)
	}

	if err = advanceWatermarks(ctx, tx, r.Keys, acquiredAt); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("syncforge/postgres: commit acquire: %w", err)
	}
	return nil
}

// ReleaseReservation transitions a reservation to released.
func (s *Store) ReleaseReservation(ctx context.Context, reservationID id.ReservationID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE syncforge_reservations
		SET state = 'released', updated_at = NOW()
		WHERE id = $1 AND state <> 'released'`,
		reservationID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: release reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return syncforge.ErrReservationNotFound
	}
	return nil
}

// ReleaseReservationByTask releases the reservation owned by the given
// task, if any.
func (s *Store) ReleaseReservationByTask(ctx context.Context, taskID id.TaskID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE syncforge_reservations
		SET state = 'released', updated_at = NOW()
		WHERE task_id = $1 AND state <> 'released'`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: release reservation by task: %w", err)
	}
	return nil
}

// GetReservationByTask returns the reservation owned by the given task.
func (s *Store) GetReservationByTask(ctx context.Context, taskID id.TaskID) (*reservation.Reservation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+reservationColumns+` FROM syncforge_reservations WHERE task_id = $1`,
		taskID,
	)
	r, err := scanReservation(row)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrReservationNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get reservation by task: %w", err)
	}
	return r, nil
}

// IsHeld reports whether any held reservation overlaps the given keys.
func (s *Store) IsHeld(ctx context.Context, keys resource.Set) (bool, error) {
	return overlapsHeld(ctx, s.pool, keys, id.Nil)
}

// ListReservations returns all non-released reservations ordered by
// creation time.
func (s *Store) ListReservations(ctx context.Context) ([]*reservation.Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+reservationColumns+`
		FROM syncforge_reservations
		WHERE state <> 'released'
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*reservation.Reservation
	for rows.Next() {
		r, scanErr := scanReservation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan reservation row: %w", scanErr)
		}
		reservations = append(reservations, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate reservation rows: %w", err)
	}
	return reservations, nil
}

// lockKeys takes the advisory transaction lock of every key, sorted
// ascending, blocking until each is granted.
func lockKeys(ctx context.Context, q querier, keys resource.Set) error {
	for _, lockID := range keys.LockIDs() {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockID); err != nil {
			return fmt.Errorf("syncforge/postgres: advisory lock %d: %w", lockID, err)
		}
	}
	return nil
}

// tryLockKeys attempts the advisory transaction lock of every key without
// blocking. Returns false on the first key another transaction holds.
func tryLockKeys(ctx context.Context, q querier, keys resource.Set) (bool, error) {
	for _, lockID := range keys.LockIDs() {
		var got bool
		if err := q.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, lockID).Scan(&got); err != nil {
			return false, fmt.Errorf("syncforge/postgres: try advisory lock %d: %w", lockID, err)
		}
		if !got {
			return false, nil
		}
	}
	return true, nil
}

// overlapsHeld reports whether a held reservation other than exclude
// overlaps the given keys.
func overlapsHeld(ctx context.Context, q querier, keys resource.Set, exclude id.ReservationID) (bool, error) {
	var held bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM syncforge_reservations
			WHERE state = 'held' AND keys && $1::text[] AND ($2 = '' OR id <> $2)
		)`,
		keys.Strings(), exclude.String(),
	).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("syncforge/postgres: check held overlap: %w", err)
	}
	return held, nil
}

// maxWatermark returns the newest watermark covering any of the keys, or
// nil when none of the keys has ever been acquired.
func maxWatermark(ctx context.Context, q querier, keys resource.Set) (*time.Time, error) {
	var wm *time.Time
	err := q.QueryRow(ctx,
		`SELECT MAX(acquired_at) FROM syncforge_watermarks WHERE key = ANY($1::text[])`,
		keys.Strings(),
	).Scan(&wm)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: read watermarks: %w", err)
	}
	return wm, nil
}

// advanceWatermarks records acquiredAt as the new watermark of every key.
func advanceWatermarks(ctx context.Context, q querier, keys resource.Set, acquiredAt time.Time) error {
	for _, k := range keys {
		_, err := q.Exec(ctx, `
			INSERT INTO syncforge_watermarks (key, acquired_at)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET acquired_at = EXCLUDED.acquired_at`,
			string(k), acquiredAt,
		)
		if err != nil {
			return fmt.Errorf("syncforge/postgres: advance watermark %q: %w", k, err)
		}
	}
	return nil
}

// scanReservation scans a single reservation row.
func scanReservation(row pgx.Row) (*reservation.Reservation, error) {
	var (
		r        reservation.Reservation
		stateStr string
		keys     []string
	)
	err := row.Scan(
		&r.ID, &r.TaskID, &keys, &stateStr, &r.AcquiredAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.State = reservation.State(stateStr)
	r.Keys = resource.FromStrings(keys)
	return &r, nil
}
