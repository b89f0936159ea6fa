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
	"github.com/syncforge/syncforge/task"
)

const taskColumns = `
	id, name, payload, state, resources, group_id, worker_id,
	created_resources, report, error, cancel_requested, timeout,
	started_at, finished_at, created_at, updated_at`

// claimScanWindow bounds how many waiting tasks one claim pass examines.
// Blocked tasks inside the window still shadow their keys, preserving the
// FIFO-per-key grant order.
const claimScanWindow = 256

// SubmitTask atomically persists a new waiting task together with its
// queued reservation.
func (s *Store) SubmitTask(ctx context.Context, t *task.Task, r *reservation.Reservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: begin submit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if !t.GroupID.IsNil() {
		var finished bool
		err = tx.QueryRow(ctx,
			`SELECT all_tasks_dispatched FROM syncforge_groups WHERE id = $1`,
			t.GroupID,
		).Scan(&finished)
		if err != nil {
			if isNoRows(err) {
				return syncforge.ErrGroupNotFound
			}
			return fmt.Errorf("syncforge/postgres: check group: %w", err)
		}
		if finished {
			return syncforge.ErrGroupFinished
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO syncforge_tasks (
			id, name, payload, state, resources, group_id, worker_id,
			created_resources, report, error, cancel_requested, timeout,
			started_at, finished_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		t.ID, t.Name, t.Payload, string(t.State), t.Resources.Strings(),
		t.GroupID, t.WorkerID,
		t.CreatedResources, t.Report, t.Error, t.CancelRequested,
		t.Timeout.Nanoseconds(),
		t.StartedAt, t.FinishedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return syncforge.ErrTaskAlreadyExists
		}
		return fmt.Errorf("syncforge/postgres: insert task: %w", err)
	}

	if err = insertReservation(ctx, tx, r); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("syncforge/postgres: commit submit: %w", err)
	}
	return nil
}

// claimCandidate is one waiting task with its queued reservation, as seen
// by a claim pass.
type claimCandidate struct {
	t    *task.Task
	rsv  id.ReservationID
	keys resource.Set
}

// ClaimTasks promotes up to limit waiting tasks to running for the given
// worker, walking waiting tasks oldest-first. A task is only promoted when
// none of its keys is held or shadowed by an earlier waiting task in the
// same pass. Each key's advisory transaction lock is taken (sorted, one at
// a time) before the held-overlap and watermark checks so that concurrent
// claimers of overlapping sets serialize instead of racing.
func (s *Store) ClaimTasks(ctx context.Context, workerID id.WorkerID, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT r.id, r.keys,`+taskColumns2("t")+`
		FROM syncforge_tasks t
		JOIN syncforge_reservations r ON r.task_id = t.id AND r.state = 'queued'
		WHERE t.state = 'waiting'
		ORDER BY t.created_at ASC
		LIMIT $1`,
		claimScanWindow,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list waiting tasks: %w", err)
	}

	var candidates []claimCandidate
	for rows.Next() {
		var (
			rsvID id.ReservationID
			keys  []string
		)
		t, scanErr := scanTaskPrefixed(rows, &rsvID, &keys)
		if scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("syncforge/postgres: scan claim candidate: %w", scanErr)
		}
		candidates = append(candidates, claimCandidate{
			t:    t,
			rsv:  rsvID,
			keys: resource.FromStrings(keys),
		})
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate claim candidates: %w", err)
	}

	blocked := make(map[resource.Key]struct{})
	blockKeys := func(keys resource.Set) {
		for _, k := range keys {
			blocked[k] = struct{}{}
		}
	}
	isBlocked := func(keys resource.Set) bool {
		for _, k := range keys {
			if _, ok := blocked[k]; ok {
				return true
			}
		}
		return false
	}

	var claimed []*task.Task
	for _, c := range candidates {
		if len(claimed) >= limit {
			break
		}
		if isBlocked(c.keys) {
			blockKeys(c.keys)
			continue
		}

		locked, lockErr := tryLockKeys(ctx, tx, c.keys)
		if lockErr != nil {
			return nil, lockErr
		}
		if !locked {
			blockKeys(c.keys)
			continue
		}

		held, heldErr := overlapsHeld(ctx, tx, c.keys, id.Nil)
		if heldErr != nil {
			return nil, heldErr
		}
		if held {
			blockKeys(c.keys)
			continue
		}

		acquiredAt := time.Now().UTC()
		wm, wmErr := maxWatermark(ctx, tx, c.keys)
		if wmErr != nil {
			return nil, wmErr
		}
		if wm != nil && !acquiredAt.After(*wm) {
			// The local clock trails the ledger; re-serialize just past
			// the newest covered watermark instead of failing the pass.
			acquiredAt = wm.Add(time.Microsecond)
		}

		// Guard against a concurrent claimer that slipped in before our
		// advisory lock: the waiting-state predicate re-checks under lock.
		tag, updErr := tx.Exec(ctx, `
			UPDATE syncforge_tasks
			SET state = 'running', worker_id = $2, started_at = $3, updated_at = NOW()
			WHERE id = $1 AND state = 'waiting'`,
			c.t.ID, workerID, acquiredAt,
		)
		if updErr != nil {
			return nil, fmt.Errorf("syncforge/postgres: promote task: %w", updErr)
		}
		if tag.RowsAffected() == 0 {
			blockKeys(c.keys)
			continue
		}

		_, updErr = tx.Exec(ctx, `
			UPDATE syncforge_reservations
			SET state = 'held', acquired_at = $2, updated_at = NOW()
			WHERE id = $1 AND state = 'queued'`,
			c.rsv, acquiredAt,
		)
		if updErr != nil {
			return nil, fmt.Errorf("syncforge/postgres: hold reservation: %w", updErr)
		}

		if err = advanceWatermarks(ctx, tx, c.keys, acquiredAt); err != nil {
			return nil, err
		}

		startedAt := acquiredAt
		c.t.State = task.StateRunning
		c.t.WorkerID = workerID
		c.t.StartedAt = &startedAt
		blockKeys(c.keys)
		claimed = append(claimed, c.t)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: commit claim: %w", err)
	}
	return claimed, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+taskColumns+` FROM syncforge_tasks WHERE id = $1`, taskID)

	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrTaskNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists changes to an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE syncforge_tasks SET
			name = $2, payload = $3, state = $4, resources = $5,
			group_id = $6, worker_id = $7, created_resources = $8,
			report = $9, error = $10, cancel_requested = $11, timeout = $12,
			started_at = $13, finished_at = $14, updated_at = NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Payload, string(t.State), t.Resources.Strings(),
		t.GroupID, t.WorkerID, t.CreatedResources,
		t.Report, t.Error, t.CancelRequested, t.Timeout.Nanoseconds(),
		t.StartedAt, t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return syncforge.ErrTaskNotFound
	}
	return nil
}

// CancelTask cancels a task. Waiting tasks are canceled outright and their
// reservations released; running tasks get the advisory CancelRequested
// flag. Terminal tasks return syncforge.ErrInvalidState.
func (s *Store) CancelTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT`+taskColumns+` FROM syncforge_tasks WHERE id = $1 FOR UPDATE`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrTaskNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get task for cancel: %w", err)
	}

	switch t.State {
	case task.StateWaiting:
		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE syncforge_tasks
			SET state = 'canceled', finished_at = $2, updated_at = NOW()
			WHERE id = $1`,
			t.ID, now,
		)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: cancel waiting task: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE syncforge_reservations
			SET state = 'released', updated_at = NOW()
			WHERE task_id = $1 AND state <> 'released'`,
			t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: release canceled reservation: %w", err)
		}
		t.State = task.StateCanceled
		t.FinishedAt = &now

	case task.StateRunning:
		_, err = tx.Exec(ctx, `
			UPDATE syncforge_tasks
			SET cancel_requested = TRUE, updated_at = NOW()
			WHERE id = $1`,
			t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: request cancel: %w", err)
		}
		t.CancelRequested = true

	default:
		return nil, syncforge.ErrInvalidState
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: commit cancel: %w", err)
	}
	return t, nil
}

// ListTasksByState returns tasks matching the given state.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	query := `SELECT` + taskColumns + ` FROM syncforge_tasks WHERE state = $1 ORDER BY created_at ASC`
	args := []any{string(state)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list tasks by state: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching the given options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM syncforge_tasks`
	args := []any{}
	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("syncforge/postgres: count tasks: %w", err)
	}
	return count, nil
}

// ReapOrphanedTasks marks workers past the TTL dead, fails their running
// tasks with the distinguished worker-lost error, and releases the failed
// tasks' reservations. The failed tasks are returned.
func (s *Store) ReapOrphanedTasks(ctx context.Context, ttl time.Duration) ([]*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: begin reap: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := tx.Query(ctx, `
		UPDATE syncforge_workers
		SET state = 'dead'
		WHERE state = 'active' AND last_seen < $1
		RETURNING id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: mark dead workers: %w", err)
	}

	var deadIDs []string
	for rows.Next() {
		var wid string
		if scanErr := rows.Scan(&wid); scanErr != nil {
			rows.Close()
			return nil, fmt.Errorf("syncforge/postgres: scan dead worker id: %w", scanErr)
		}
		deadIDs = append(deadIDs, wid)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate dead workers: %w", err)
	}

	if len(deadIDs) == 0 {
		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("syncforge/postgres: commit reap: %w", err)
		}
		return nil, nil
	}

	rows, err = tx.Query(ctx, `
		UPDATE syncforge_tasks
		SET state = 'failed', error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE state = 'running' AND worker_id = ANY($1)
		RETURNING`+taskColumns,
		deadIDs, syncforge.ErrWorkerLost.Error(),
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: fail orphaned tasks: %w", err)
	}
	reaped, err := collectTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(reaped) > 0 {
		taskIDs := make([]string, len(reaped))
		for i, t := range reaped {
			taskIDs[i] = t.ID.String()
		}
		_, err = tx.Exec(ctx, `
			UPDATE syncforge_reservations
			SET state = 'released', updated_at = NOW()
			WHERE task_id = ANY($1) AND state <> 'released'`,
			taskIDs,
		)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: release orphaned reservations: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: commit reap: %w", err)
	}
	return reaped, nil
}

// CreateGroup persists a new task group.
func (s *Store) CreateGroup(ctx context.Context, g *task.Group) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO syncforge_groups (id, all_tasks_dispatched, created_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		g.ID, g.AllTasksDispatched, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: create group: %w", err)
	}
	return nil
}

// GetGroup retrieves a task group by ID.
func (s *Store) GetGroup(ctx context.Context, groupID id.GroupID) (*task.Group, error) {
	var g task.Group
	err := s.pool.QueryRow(ctx, `
		SELECT id, all_tasks_dispatched, created_at, updated_at
		FROM syncforge_groups WHERE id = $1`,
		groupID,
	).Scan(&g.ID, &g.AllTasksDispatched, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrGroupNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get group: %w", err)
	}
	return &g, nil
}

// FinishGroup sets AllTasksDispatched. The flag flips exactly once.
func (s *Store) FinishGroup(ctx context.Context, groupID id.GroupID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE syncforge_groups
		SET all_tasks_dispatched = TRUE, updated_at = NOW()
		WHERE id = $1 AND all_tasks_dispatched = FALSE`,
		groupID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: finish group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM syncforge_groups WHERE id = $1)`, groupID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("syncforge/postgres: check group: %w", err)
		}
		if !exists {
			return syncforge.ErrGroupNotFound
		}
		return syncforge.ErrGroupFinished
	}
	return nil
}

// ListGroupTasks returns all tasks in the group ordered by creation time.
func (s *Store) ListGroupTasks(ctx context.Context, groupID id.GroupID) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+taskColumns+` FROM syncforge_tasks WHERE group_id = $1 ORDER BY created_at ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list group tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// taskColumns2 returns the task column list qualified with a table alias.
func taskColumns2(alias string) string {
	return ` ` + alias + `.id, ` + alias + `.name, ` + alias + `.payload, ` + alias + `.state, ` +
		alias + `.resources, ` + alias + `.group_id, ` + alias + `.worker_id, ` +
		alias + `.created_resources, ` + alias + `.report, ` + alias + `.error, ` +
		alias + `.cancel_requested, ` + alias + `.timeout, ` +
		alias + `.started_at, ` + alias + `.finished_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// scanTask scans a single task row.
func scanTask(row pgx.Row) (*task.Task, error) {
	return scanTaskInto(row, nil)
}

// scanTaskPrefixed scans a row whose leading columns are a reservation id
// and key array, followed by the full task column list.
func scanTaskPrefixed(row pgx.Row, rsvID *id.ReservationID, keys *[]string) (*task.Task, error) {
	return scanTaskInto(row, []any{rsvID, keys})
}

func scanTaskInto(row pgx.Row, prefix []any) (*task.Task, error) {
	var (
		t         task.Task
		stateStr  string
		resources []string
		timeoutNs int64
	)
	dest := append(prefix,
		&t.ID, &t.Name, &t.Payload, &stateStr, &resources, &t.GroupID, &t.WorkerID,
		&t.CreatedResources, &t.Report, &t.Error, &t.CancelRequested, &timeoutNs,
		&t.StartedAt, &t.FinishedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	t.State = task.State(stateStr)
	t.Resources = resource.FromStrings(resources)
	t.Timeout = time.Duration(timeoutNs)
	return &t, nil
}

// collectTasks collects all tasks from query rows.
func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate task rows: %w", err)
	}
	return tasks, nil
}
