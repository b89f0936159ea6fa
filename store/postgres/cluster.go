package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/id"
)

const workerColumns = `
	id, hostname, concurrency, state, is_leader, leader_until, last_seen, created_at`

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO syncforge_workers (
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen`,
		w.ID, w.Hostname, w.Concurrency, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM syncforge_workers WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return syncforge.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE syncforge_workers SET last_seen = NOW() WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("syncforge/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return syncforge.ErrWorkerNotFound
	}
	return nil
}

// GetWorker retrieves a worker by ID.
func (s *Store) GetWorker(ctx context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+workerColumns+` FROM syncforge_workers WHERE id = $1`,
		workerID,
	)
	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, syncforge.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("syncforge/postgres: get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+workerColumns+` FROM syncforge_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// ListDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ListDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	rows, err := s.pool.Query(ctx,
		`SELECT`+workerColumns+` FROM syncforge_workers WHERE last_seen < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("syncforge/postgres: list dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to become the cluster leader.
// Uses advisory locking on the worker row set to claim leadership when no
// valid leader exists or the current leader's TTL has expired.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	until := time.Now().UTC().Add(ttl)

	// Step 1: Clear any expired leader.
	_, err := s.pool.Exec(ctx, `
		UPDATE syncforge_workers
		SET is_leader = FALSE, leader_until = NULL
		WHERE is_leader = TRUE AND leader_until < NOW()`,
	)
	if err != nil {
		return false, fmt.Errorf("syncforge/postgres: clear expired leader: %w", err)
	}

	// Step 2: Check if there's already an active leader that isn't us.
	var activeLeaderID *string
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM syncforge_workers
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`,
	).Scan(&activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("syncforge/postgres: check leader: %w", err)
	}

	if activeLeaderID != nil && *activeLeaderID != wID {
		return false, nil
	}

	// Step 3: Claim or re-claim leadership.
	tag, claimErr := s.pool.Exec(ctx, `
		UPDATE syncforge_workers
		SET is_leader = TRUE, leader_until = $2
		WHERE id = $1`,
		wID, until,
	)
	if claimErr != nil {
		return false, fmt.Errorf("syncforge/postgres: claim leadership: %w", claimErr)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE syncforge_workers
		SET leader_until = $2
		WHERE id = $1 AND is_leader = TRUE`,
		workerID, until,
	)
	if err != nil {
		return false, fmt.Errorf("syncforge/postgres: renew leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+workerColumns+`
		FROM syncforge_workers
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`,
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncforge/postgres: get leader: %w", err)
	}
	return w, nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		stateStr string
	)
	err := row.Scan(
		&w.ID, &w.Hostname, &w.Concurrency, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(stateStr)
	return &w, nil
}

// collectWorkers collects all workers from query rows.
func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("syncforge/postgres: scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("syncforge/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}
