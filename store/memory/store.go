// Package memory implements store.Store fully in memory. Safe for
// concurrent access. Intended for unit testing and single-process
// development deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/resource"
	"github.com/syncforge/syncforge/task"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ task.Store        = (*Store)(nil)
	_ reservation.Store = (*Store)(nil)
	_ cluster.Store     = (*Store)(nil)
	_ content.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	tasks        map[string]*task.Task
	groups       map[string]*task.Group
	reservations map[string]*reservation.Reservation
	byTask       map[string]string // task ID -> reservation ID
	workers      map[string]*cluster.Worker

	// watermarks is the per-key serialization high-water mark: the latest
	// acquired_at ever recorded for each resource key. An acquire must
	// carry a timestamp strictly greater than the watermark of every key
	// it covers, which keeps overlapping grants ordered even when worker
	// clocks disagree.
	watermarks map[resource.Key]time.Time

	contents  map[string]*content.Content    // natural key -> row
	contentID map[string]*content.Content    // content ID -> row
	artifacts map[string]*content.Artifact   // digest -> row
	links     map[string]*content.RemoteLink // link ID -> row
	repos     map[string]map[string]struct{} // repository -> content ID set

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tasks:        make(map[string]*task.Task),
		groups:       make(map[string]*task.Group),
		reservations: make(map[string]*reservation.Reservation),
		byTask:       make(map[string]string),
		workers:      make(map[string]*cluster.Worker),
		watermarks:   make(map[resource.Key]time.Time),
		contents:     make(map[string]*content.Content),
		contentID:    make(map[string]*content.Content),
		artifacts:    make(map[string]*content.Artifact),
		links:        make(map[string]*content.RemoteLink),
		repos:        make(map[string]map[string]struct{}),
	}
}

// contentKey builds the uniqueness index key for a content row.
func contentKey(contentType string, key content.Key) string {
	return contentType + "|" + key.Canonical()
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// SubmitTask persists a new waiting task together with its queued
// reservation.
func (m *Store) SubmitTask(_ context.Context, t *task.Task, r *reservation.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return syncforge.ErrTaskAlreadyExists
	}
	if !t.GroupID.IsNil() {
		g, ok := m.groups[t.GroupID.String()]
		if !ok {
			return syncforge.ErrGroupNotFound
		}
		if g.AllTasksDispatched {
			return syncforge.ErrGroupFinished
		}
	}

	tc := *t
	m.tasks[key] = &tc
	rc := *r
	m.reservations[r.ID.String()] = &rc
	m.byTask[t.ID.String()] = r.ID.String()
	return nil
}

// ClaimTasks promotes up to limit waiting tasks to running for the given
// worker, granting reservations FIFO per resource key.
func (m *Store) ClaimTasks(_ context.Context, workerID id.WorkerID, limit int) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	waiting := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.State == task.StateWaiting {
			waiting = append(waiting, t)
		}
	}
	sort.Slice(waiting, func(i, k int) bool {
		return waiting[i].CreatedAt.Before(waiting[k].CreatedAt)
	})

	// Keys wanted by an earlier waiting task that could not be granted in
	// this pass. A later task touching any of them must also wait, so
	// grants stay FIFO per key while disjoint sets proceed.
	blocked := make(map[resource.Key]struct{})

	var claimed []*task.Task
	for _, t := range waiting {
		if limit > 0 && len(claimed) >= limit {
			break
		}

		if m.overlapsLocked(t.Resources, blocked) {
			for _, k := range t.Resources {
				blocked[k] = struct{}{}
			}
			continue
		}

		r, ok := m.reservationForTaskLocked(t.ID)
		if !ok {
			// A task without a reservation row is unclaimable.
			for _, k := range t.Resources {
				blocked[k] = struct{}{}
			}
			continue
		}

		now := m.acquireLocked(r)
		t.State = task.StateRunning
		t.WorkerID = workerID
		started := now
		t.StartedAt = &started
		t.Touch()

		cp := *t
		claimed = append(claimed, &cp)
	}

	return claimed, nil
}

// overlapsLocked reports whether any key in keys is currently held or
// already blocked in this claim pass.
func (m *Store) overlapsLocked(keys resource.Set, blocked map[resource.Key]struct{}) bool {
	for _, k := range keys {
		if _, ok := blocked[k]; ok {
			return true
		}
	}
	for _, r := range m.reservations {
		if r.State == reservation.StateHeld && r.Keys.Overlaps(keys) {
			return true
		}
	}
	return false
}

// acquireLocked transitions r to held with a serialization timestamp
// strictly greater than every covered key's watermark. Within one process
// the conflict is resolved by advancing the timestamp instead of failing.
func (m *Store) acquireLocked(r *reservation.Reservation) time.Time {
	now := time.Now().UTC()
	for _, k := range r.Keys {
		if wm, ok := m.watermarks[k]; ok && !now.After(wm) {
			now = wm.Add(time.Nanosecond)
		}
	}
	for _, k := range r.Keys {
		m.watermarks[k] = now
	}
	r.State = reservation.StateHeld
	acquired := now
	r.AcquiredAt = &acquired
	r.Touch()
	return now
}

func (m *Store) reservationForTaskLocked(taskID id.TaskID) (*reservation.Reservation, bool) {
	rid, ok := m.byTask[taskID.String()]
	if !ok {
		return nil, false
	}
	r, ok := m.reservations[rid]
	if !ok || r.State == reservation.StateReleased {
		return nil, false
	}
	return r, ok
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, syncforge.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateTask persists changes to an existing task.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, ok := m.tasks[key]; !ok {
		return syncforge.ErrTaskNotFound
	}
	t.Touch()
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// CancelTask cancels a waiting task outright or flags a running one.
func (m *Store) CancelTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, syncforge.ErrTaskNotFound
	}

	switch t.State {
	case task.StateWaiting:
		t.State = task.StateCanceled
		now := time.Now().UTC()
		t.FinishedAt = &now
		t.Touch()
		m.releaseByTaskLocked(taskID)
	case task.StateRunning:
		t.CancelRequested = true
		t.Touch()
	default:
		return nil, syncforge.ErrInvalidState
	}

	cp := *t
	return &cp, nil
}

// ListTasksByState returns tasks in the given state ordered by creation time.
func (m *Store) ListTasksByState(_ context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.State == state {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*task.Task, len(matched))
	for i, t := range matched {
		cp := *t
		result[i] = &cp
	}
	return result, nil
}

// CountTasks returns the number of tasks matching the given options.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, t := range m.tasks {
		if opts.State == "" || t.State == opts.State {
			n++
		}
	}
	return n, nil
}

// ReapOrphanedTasks fails the running tasks of workers that stopped
// heartbeating, releases their reservations, and marks the workers dead.
func (m *Store) ReapOrphanedTasks(_ context.Context, ttl time.Duration) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-ttl)

	dead := make(map[string]struct{})
	for _, w := range m.workers {
		if w.State != cluster.WorkerDead && w.LastSeen.Before(cutoff) {
			w.State = cluster.WorkerDead
			dead[w.ID.String()] = struct{}{}
		}
	}
	if len(dead) == 0 {
		return nil, nil
	}

	var reaped []*task.Task
	for _, t := range m.tasks {
		if t.State != task.StateRunning {
			continue
		}
		if _, lost := dead[t.WorkerID.String()]; !lost {
			continue
		}
		t.State = task.StateFailed
		t.Error = syncforge.ErrWorkerLost.Error()
		finished := now
		t.FinishedAt = &finished
		t.Touch()
		m.releaseByTaskLocked(t.ID)

		cp := *t
		reaped = append(reaped, &cp)
	}

	sort.Slice(reaped, func(i, k int) bool {
		return reaped[i].CreatedAt.Before(reaped[k].CreatedAt)
	})
	return reaped, nil
}

// CreateGroup persists a new task group.
func (m *Store) CreateGroup(_ context.Context, g *task.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *g
	m.groups[g.ID.String()] = &cp
	return nil
}

// GetGroup retrieves a task group by ID.
func (m *Store) GetGroup(_ context.Context, groupID id.GroupID) (*task.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID.String()]
	if !ok {
		return nil, syncforge.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

// FinishGroup sets AllTasksDispatched exactly once.
func (m *Store) FinishGroup(_ context.Context, groupID id.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID.String()]
	if !ok {
		return syncforge.ErrGroupNotFound
	}
	if g.AllTasksDispatched {
		return syncforge.ErrGroupFinished
	}
	g.AllTasksDispatched = true
	g.Touch()
	return nil
}

// ListGroupTasks returns all tasks in the group ordered by creation time.
func (m *Store) ListGroupTasks(_ context.Context, groupID id.GroupID) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID.String()]; !ok {
		return nil, syncforge.ErrGroupNotFound
	}

	matched := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.GroupID == groupID {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})
	return matched, nil
}

// ──────────────────────────────────────────────────
// Reservation Store
// ──────────────────────────────────────────────────

// CreateReservation persists a new reservation in queued state.
func (m *Store) CreateReservation(_ context.Context, r *reservation.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.reservations[r.ID.String()] = &cp
	m.byTask[r.TaskID.String()] = r.ID.String()
	return nil
}

// AcquireReservation attempts to transition a queued reservation to held
// with the given serialization timestamp.
func (m *Store) AcquireReservation(_ context.Context, reservationID id.ReservationID, acquiredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[reservationID.String()]
	if !ok {
		return syncforge.ErrReservationNotFound
	}
	if r.State != reservation.StateQueued {
		return syncforge.ErrInvalidState
	}

	for _, other := range m.reservations {
		if other.ID == r.ID {
			continue
		}
		if other.State == reservation.StateHeld && other.Keys.Overlaps(r.Keys) {
			return syncforge.ErrReservationConflict
		}
	}
	// The timestamp must beat the watermark of every covered key, or two
	// overlapping grants issued by machines with skewed clocks could
	// serialize out of order.
	for _, k := range r.Keys {
		if wm, ok := m.watermarks[k]; ok && !acquiredAt.After(wm) {
			return syncforge.ErrReservationConflict
		}
	}

	for _, k := range r.Keys {
		m.watermarks[k] = acquiredAt
	}
	r.State = reservation.StateHeld
	acquired := acquiredAt
	r.AcquiredAt = &acquired
	r.Touch()
	return nil
}

// ReleaseReservation transitions a reservation to released.
func (m *Store) ReleaseReservation(_ context.Context, reservationID id.ReservationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[reservationID.String()]
	if !ok {
		return syncforge.ErrReservationNotFound
	}
	r.State = reservation.StateReleased
	r.Touch()
	return nil
}

// ReleaseReservationByTask releases the reservation owned by the given task.
func (m *Store) ReleaseReservationByTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseByTaskLocked(taskID)
	return nil
}

func (m *Store) releaseByTaskLocked(taskID id.TaskID) {
	rid, ok := m.byTask[taskID.String()]
	if !ok {
		return
	}
	if r, ok := m.reservations[rid]; ok {
		r.State = reservation.StateReleased
		r.Touch()
	}
}

// GetReservationByTask returns the reservation owned by the given task.
func (m *Store) GetReservationByTask(_ context.Context, taskID id.TaskID) (*reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rid, ok := m.byTask[taskID.String()]
	if !ok {
		return nil, syncforge.ErrReservationNotFound
	}
	r, ok := m.reservations[rid]
	if !ok {
		return nil, syncforge.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

// IsHeld reports whether any held reservation overlaps the given keys.
func (m *Store) IsHeld(_ context.Context, keys resource.Set) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reservations {
		if r.State == reservation.StateHeld && r.Keys.Overlaps(keys) {
			return true, nil
		}
	}
	return false, nil
}

// ListReservations returns all non-released reservations ordered by
// creation time.
func (m *Store) ListReservations(_ context.Context) ([]*reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*reservation.Reservation, 0)
	for _, r := range m.reservations {
		if r.State != reservation.StateReleased {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})
	return matched, nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workers, workerID.String())
	if m.leader == workerID.String() {
		m.leader = ""
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return syncforge.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// GetWorker retrieves a worker by ID.
func (m *Store) GetWorker(_ context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return nil, syncforge.ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ListDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	result := make([]*cluster.Worker, 0)
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			cp := *w
			result = append(result, &cp)
		}
	}
	return result, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if m.leader != "" && m.leader != workerID.String() && m.leaderUntil.After(now) {
		return false, nil
	}

	m.setLeaderLocked(workerID.String(), now.Add(ttl))
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if m.leader != workerID.String() || !m.leaderUntil.After(now) {
		return false, nil
	}

	m.setLeaderLocked(workerID.String(), now.Add(ttl))
	return true, nil
}

func (m *Store) setLeaderLocked(workerID string, until time.Time) {
	m.leader = workerID
	m.leaderUntil = until
	for _, w := range m.workers {
		if w.ID.String() == workerID {
			w.IsLeader = true
			u := until
			w.LeaderUntil = &u
		} else {
			w.IsLeader = false
			w.LeaderUntil = nil
		}
	}
}

// GetLeader returns the current cluster leader, or nil if there is none.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(time.Now().UTC()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Content Store
// ──────────────────────────────────────────────────

// FindContent returns persisted content rows matching the given natural
// keys, indexed by Key.Canonical().
func (m *Store) FindContent(_ context.Context, contentType string, keys []content.Key) (map[string]*content.Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]*content.Content)
	for _, k := range keys {
		if c, ok := m.contents[contentKey(contentType, k)]; ok {
			cp := *c
			found[k.Canonical()] = &cp
		}
	}
	return found, nil
}

// FindArtifacts returns persisted artifact rows for the given digests.
func (m *Store) FindArtifacts(_ context.Context, digests []string) (map[string]*content.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]*content.Artifact)
	for _, d := range digests {
		if a, ok := m.artifacts[d]; ok {
			cp := *a
			found[d] = &cp
		}
	}
	return found, nil
}

// SaveUnit atomically persists a unit with create-if-absent semantics.
func (m *Store) SaveUnit(_ context.Context, u *content.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := contentKey(u.Content.Type, u.Content.Key)
	if existing, ok := m.contents[ck]; ok {
		cp := *existing
		u.Content = &cp
	} else {
		cp := *u.Content
		m.contents[ck] = &cp
		m.contentID[cp.ID.String()] = &cp
	}

	// Artifact rows dedup by digest; remap any rebound IDs into the links.
	remapped := make(map[string]id.ArtifactID)
	for i, a := range u.Artifacts {
		winner := m.createArtifactLocked(a)
		if winner.ID != a.ID {
			remapped[a.ID.String()] = winner.ID
		}
		u.Artifacts[i] = winner
	}

	existingLinks := m.linksForContentLocked(u.Content.ID)
	for i, l := range u.Links {
		if prev, ok := existingLinks[l.RelPath]; ok {
			cp := *prev
			u.Links[i] = &cp
			continue
		}
		cp := *l
		cp.ContentID = u.Content.ID
		if nid, ok := remapped[cp.ArtifactID.String()]; ok {
			cp.ArtifactID = nid
		}
		m.links[cp.ID.String()] = &cp
		lc := cp
		u.Links[i] = &lc
	}
	return nil
}

func (m *Store) createArtifactLocked(a *content.Artifact) *content.Artifact {
	if existing, ok := m.artifacts[a.Digest]; ok {
		cp := *existing
		return &cp
	}
	cp := *a
	m.artifacts[a.Digest] = &cp
	out := cp
	return &out
}

func (m *Store) linksForContentLocked(contentID id.ContentID) map[string]*content.RemoteLink {
	byPath := make(map[string]*content.RemoteLink)
	for _, l := range m.links {
		if l.ContentID == contentID {
			byPath[l.RelPath] = l
		}
	}
	return byPath
}

// CreateArtifactIfAbsent persists an artifact row keyed by digest.
func (m *Store) CreateArtifactIfAbsent(_ context.Context, a *content.Artifact) (*content.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createArtifactLocked(a), nil
}

// GetLink retrieves a remote link by ID.
func (m *Store) GetLink(_ context.Context, linkID id.LinkID) (*content.RemoteLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[linkID.String()]
	if !ok {
		return nil, syncforge.ErrLinkNotFound
	}
	cp := *l
	return &cp, nil
}

// ListLinks returns the remote links of a content unit.
func (m *Store) ListLinks(_ context.Context, contentID id.ContentID) ([]*content.RemoteLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*content.RemoteLink, 0)
	for _, l := range m.links {
		if l.ContentID == contentID {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].RelPath < result[k].RelPath
	})
	return result, nil
}

// BindLinkArtifact sets the artifact backing a previously null link.
func (m *Store) BindLinkArtifact(_ context.Context, linkID id.LinkID, artifactID id.ArtifactID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[linkID.String()]
	if !ok {
		return syncforge.ErrLinkNotFound
	}
	l.ArtifactID = artifactID
	l.Touch()
	return nil
}

// AddToRepository records repository membership for the given content.
func (m *Store) AddToRepository(_ context.Context, repository string, contentIDs []id.ContentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.repos[repository]
	if !ok {
		set = make(map[string]struct{})
		m.repos[repository] = set
	}
	for _, cid := range contentIDs {
		set[cid.String()] = struct{}{}
	}
	return nil
}

// ListRepositoryContent returns the IDs of all content in a repository.
func (m *Store) ListRepositoryContent(_ context.Context, repository string) ([]id.ContentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.repos[repository]
	result := make([]id.ContentID, 0, len(set))
	for s := range set {
		cid, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		result = append(result, cid)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].String() < result[k].String()
	})
	return result, nil
}

// CountContent returns the number of persisted content rows of a type.
func (m *Store) CountContent(_ context.Context, contentType string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, c := range m.contents {
		if c.Type == contentType {
			n++
		}
	}
	return n, nil
}
