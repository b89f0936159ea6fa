package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/resource"
	"github.com/syncforge/syncforge/task"
)

func submitTask(t *testing.T, s *Store, name string, keys ...resource.Key) *task.Task {
	t.Helper()
	tk := &task.Task{
		Entity:    syncforge.NewEntity(),
		ID:        id.NewTaskID(),
		Name:      name,
		State:     task.StateWaiting,
		Resources: resource.NewSet(keys...),
	}
	r := reservation.New(tk.ID, tk.Resources)
	if err := s.SubmitTask(context.Background(), tk, r); err != nil {
		t.Fatalf("SubmitTask(%s): %v", name, err)
	}
	return tk
}

func registerWorker(t *testing.T, s *Store) *cluster.Worker {
	t.Helper()
	w := &cluster.Worker{
		ID:        id.NewWorkerID(),
		Hostname:  "test",
		State:     cluster.WorkerActive,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RegisterWorker(context.Background(), w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	return w
}

func TestSubmitTaskDuplicate(t *testing.T) {
	s := New()
	tk := submitTask(t, s, "sync", resource.NewKey("repo", "a"))

	r := reservation.New(tk.ID, tk.Resources)
	err := s.SubmitTask(context.Background(), tk, r)
	if !errors.Is(err, syncforge.ErrTaskAlreadyExists) {
		t.Errorf("err = %v, want ErrTaskAlreadyExists", err)
	}
}

func TestClaimTasksMutualExclusion(t *testing.T) {
	s := New()
	w := registerWorker(t, s)
	key := resource.NewKey("repo", "a")

	submitTask(t, s, "first", key)
	submitTask(t, s, "second", key)

	claimed, err := s.ClaimTasks(context.Background(), w.ID, 10)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d tasks with overlapping keys, want 1", len(claimed))
	}
	if claimed[0].Name != "first" {
		t.Errorf("claimed %q, want the older task", claimed[0].Name)
	}

	// The second task stays blocked until the first releases.
	more, err := s.ClaimTasks(context.Background(), w.ID, 10)
	if err != nil {
		t.Fatalf("second ClaimTasks: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("claimed %d tasks while reservation held, want 0", len(more))
	}

	if err := s.ReleaseReservationByTask(context.Background(), claimed[0].ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	more, err = s.ClaimTasks(context.Background(), w.ID, 10)
	if err != nil {
		t.Fatalf("third ClaimTasks: %v", err)
	}
	if len(more) != 1 || more[0].Name != "second" {
		t.Fatalf("after release claimed %v, want the second task", more)
	}
}

func TestClaimTasksDisjointKeysRunConcurrently(t *testing.T) {
	s := New()
	w := registerWorker(t, s)

	submitTask(t, s, "a", resource.NewKey("repo", "a"))
	submitTask(t, s, "b", resource.NewKey("repo", "b"))
	submitTask(t, s, "c", resource.NewKey("repo", "c"))

	claimed, err := s.ClaimTasks(context.Background(), w.ID, 10)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 3 {
		t.Errorf("claimed %d disjoint tasks, want 3", len(claimed))
	}
	for _, tk := range claimed {
		if tk.State != task.StateRunning {
			t.Errorf("task %s state = %s, want running", tk.Name, tk.State)
		}
		if tk.WorkerID != w.ID {
			t.Errorf("task %s worker = %s, want %s", tk.Name, tk.WorkerID, w.ID)
		}
	}
}

func TestClaimTasksFIFOPerKey(t *testing.T) {
	s := New()
	w := registerWorker(t, s)
	key := resource.NewKey("repo", "a")

	// A running task holds repo/a. A waiting task wants repo/a + repo/b.
	// A later task wanting only repo/b must not jump the queue: repo/b is
	// wanted by the earlier blocked task.
	first := submitTask(t, s, "holder", key)
	if claimed, _ := s.ClaimTasks(context.Background(), w.ID, 1); len(claimed) != 1 || claimed[0].ID != first.ID {
		t.Fatal("setup: holder not claimed")
	}

	submitTask(t, s, "blocked", key, resource.NewKey("repo", "b"))
	submitTask(t, s, "late", resource.NewKey("repo", "b"))

	claimed, err := s.ClaimTasks(context.Background(), w.ID, 10)
	if err != nil {
		t.Fatalf("ClaimTasks: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %v, want none: repo/b is wanted by an earlier waiting task", claimed)
	}
}

func TestAcquireReservationClockSkew(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := resource.NewKey("repo", "a")

	t1 := submitTask(t, s, "one", key)
	r1, err := s.GetReservationByTask(ctx, t1.ID)
	if err != nil {
		t.Fatalf("GetReservationByTask: %v", err)
	}

	now := time.Now().UTC()
	if err := s.AcquireReservation(ctx, r1.ID, now); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.ReleaseReservation(ctx, r1.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	// A second acquire from a machine whose clock lags must be rejected:
	// its timestamp does not beat the key's watermark.
	t2 := submitTask(t, s, "two", key)
	r2, err := s.GetReservationByTask(ctx, t2.ID)
	if err != nil {
		t.Fatalf("GetReservationByTask: %v", err)
	}
	err = s.AcquireReservation(ctx, r2.ID, now.Add(-time.Second))
	if !errors.Is(err, syncforge.ErrReservationConflict) {
		t.Fatalf("stale acquire err = %v, want ErrReservationConflict", err)
	}

	// Retried with a fresh, later timestamp it succeeds.
	if err := s.AcquireReservation(ctx, r2.ID, now.Add(time.Millisecond)); err != nil {
		t.Fatalf("retried acquire: %v", err)
	}
}

func TestAcquireReservationOverlapConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := resource.NewKey("repo", "a")

	t1 := submitTask(t, s, "one", key)
	r1, _ := s.GetReservationByTask(ctx, t1.ID)
	if err := s.AcquireReservation(ctx, r1.ID, time.Now().UTC()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	t2 := submitTask(t, s, "two", key)
	r2, _ := s.GetReservationByTask(ctx, t2.ID)
	err := s.AcquireReservation(ctx, r2.ID, time.Now().UTC())
	if !errors.Is(err, syncforge.ErrReservationConflict) {
		t.Errorf("overlapping acquire err = %v, want ErrReservationConflict", err)
	}
}

func TestCancelTaskWaiting(t *testing.T) {
	s := New()
	ctx := context.Background()
	tk := submitTask(t, s, "sync", resource.NewKey("repo", "a"))

	got, err := s.CancelTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if got.State != task.StateCanceled {
		t.Errorf("state = %s, want canceled", got.State)
	}

	r, err := s.GetReservationByTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetReservationByTask: %v", err)
	}
	if r.State != reservation.StateReleased {
		t.Errorf("reservation state = %s, want released", r.State)
	}
}

func TestCancelTaskRunningIsAdvisory(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := registerWorker(t, s)
	tk := submitTask(t, s, "sync", resource.NewKey("repo", "a"))

	if claimed, _ := s.ClaimTasks(ctx, w.ID, 1); len(claimed) != 1 {
		t.Fatal("setup: task not claimed")
	}

	got, err := s.CancelTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if got.State != task.StateRunning {
		t.Errorf("state = %s, want running (cancellation is advisory)", got.State)
	}
	if !got.CancelRequested {
		t.Error("CancelRequested not set")
	}
}

func TestCancelTaskTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	tk := submitTask(t, s, "sync", resource.NewKey("repo", "a"))

	if _, err := s.CancelTask(ctx, tk.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	_, err := s.CancelTask(ctx, tk.ID)
	if !errors.Is(err, syncforge.ErrInvalidState) {
		t.Errorf("cancel of terminal task err = %v, want ErrInvalidState", err)
	}
}

func TestReapOrphanedTasks(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := registerWorker(t, s)
	key := resource.NewKey("repo", "a")
	tk := submitTask(t, s, "sync", key)

	if claimed, _ := s.ClaimTasks(ctx, w.ID, 1); len(claimed) != 1 {
		t.Fatal("setup: task not claimed")
	}

	// Simulate a crashed worker by backdating its heartbeat.
	s.mu.Lock()
	s.workers[w.ID.String()].LastSeen = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	reaped, err := s.ReapOrphanedTasks(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapOrphanedTasks: %v", err)
	}
	if len(reaped) != 1 {
		t.Fatalf("reaped %d tasks, want 1", len(reaped))
	}
	if reaped[0].State != task.StateFailed {
		t.Errorf("state = %s, want failed", reaped[0].State)
	}
	if reaped[0].Error != syncforge.ErrWorkerLost.Error() {
		t.Errorf("error = %q, want worker-lost", reaped[0].Error)
	}

	// The key is free again.
	held, err := s.IsHeld(ctx, resource.NewSet(key))
	if err != nil {
		t.Fatalf("IsHeld: %v", err)
	}
	if held {
		t.Error("reservation still held after reap")
	}

	got, _ := s.GetWorker(ctx, w.ID)
	if got.State != cluster.WorkerDead {
		t.Errorf("worker state = %s, want dead", got.State)
	}

	if _, err := s.CancelTask(ctx, tk.ID); !errors.Is(err, syncforge.ErrInvalidState) {
		t.Errorf("reaped task should be terminal, cancel err = %v", err)
	}
}

func TestReapSkipsHealthyWorkers(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := registerWorker(t, s)
	submitTask(t, s, "sync", resource.NewKey("repo", "a"))
	if claimed, _ := s.ClaimTasks(ctx, w.ID, 1); len(claimed) != 1 {
		t.Fatal("setup: task not claimed")
	}

	reaped, err := s.ReapOrphanedTasks(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapOrphanedTasks: %v", err)
	}
	if len(reaped) != 0 {
		t.Errorf("reaped %d tasks from a healthy worker", len(reaped))
	}
}

func TestGroupLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	g := &task.Group{Entity: syncforge.NewEntity(), ID: id.NewGroupID()}
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	tk := &task.Task{
		Entity:    syncforge.NewEntity(),
		ID:        id.NewTaskID(),
		Name:      "member",
		State:     task.StateWaiting,
		Resources: resource.NewSet(resource.NewKey("repo", "a")),
		GroupID:   g.ID,
	}
	if err := s.SubmitTask(ctx, tk, reservation.New(tk.ID, tk.Resources)); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	if err := s.FinishGroup(ctx, g.ID); err != nil {
		t.Fatalf("FinishGroup: %v", err)
	}
	if err := s.FinishGroup(ctx, g.ID); !errors.Is(err, syncforge.ErrGroupFinished) {
		t.Errorf("second FinishGroup err = %v, want ErrGroupFinished", err)
	}

	// No task may join a finished group.
	late := &task.Task{
		Entity:    syncforge.NewEntity(),
		ID:        id.NewTaskID(),
		Name:      "late",
		State:     task.StateWaiting,
		Resources: resource.NewSet(resource.NewKey("repo", "b")),
		GroupID:   g.ID,
	}
	err := s.SubmitTask(ctx, late, reservation.New(late.ID, late.Resources))
	if !errors.Is(err, syncforge.ErrGroupFinished) {
		t.Errorf("late submit err = %v, want ErrGroupFinished", err)
	}

	members, err := s.ListGroupTasks(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListGroupTasks: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("group has %d tasks, want 1", len(members))
	}
}

func TestLeadershipElection(t *testing.T) {
	s := New()
	ctx := context.Background()
	w1 := registerWorker(t, s)
	w2 := registerWorker(t, s)

	ok, err := s.AcquireLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLeadership(w1) = %v, %v", ok, err)
	}
	ok, err = s.AcquireLeadership(ctx, w2.ID, time.Minute)
	if err != nil || ok {
		t.Fatalf("AcquireLeadership(w2) = %v, %v; want refused", ok, err)
	}

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID != w1.ID {
		t.Fatalf("leader = %v, want w1", leader)
	}

	ok, err = s.RenewLeadership(ctx, w1.ID, time.Minute)
	if err != nil || !ok {
		t.Errorf("RenewLeadership(w1) = %v, %v", ok, err)
	}
	ok, err = s.RenewLeadership(ctx, w2.ID, time.Minute)
	if err != nil || ok {
		t.Errorf("RenewLeadership(w2) = %v, %v; want refused", ok, err)
	}
}

func TestSaveUnitCreateIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	key := content.Key{"name": "bash", "version": "5.2"}
	a := content.NewArtifact("sha256:abc", 10)
	c := content.New("rpm.package", key)
	link := content.NewLink(c.ID, "bash-5.2.rpm", a.ID)
	u := &content.Unit{Content: c, Artifacts: []*content.Artifact{a}, Links: []*content.RemoteLink{link}}

	if err := s.SaveUnit(ctx, u); err != nil {
		t.Fatalf("SaveUnit: %v", err)
	}
	if u.Content.ID != c.ID {
		t.Error("first save should keep the fresh row")
	}

	// A second unit with the same natural key rebinds to the winner.
	a2 := content.NewArtifact("sha256:abc", 10)
	c2 := content.New("rpm.package", key)
	link2 := content.NewLink(c2.ID, "bash-5.2.rpm", a2.ID)
	u2 := &content.Unit{Content: c2, Artifacts: []*content.Artifact{a2}, Links: []*content.RemoteLink{link2}}

	if err := s.SaveUnit(ctx, u2); err != nil {
		t.Fatalf("second SaveUnit: %v", err)
	}
	if u2.Content.ID != c.ID {
		t.Errorf("rebound content ID = %s, want %s", u2.Content.ID, c.ID)
	}
	if u2.Artifacts[0].ID != u.Artifacts[0].ID {
		t.Errorf("artifact not rebound by digest")
	}

	n, _ := s.CountContent(ctx, "rpm.package")
	if n != 1 {
		t.Errorf("CountContent = %d, want 1", n)
	}

	links, err := s.ListLinks(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 1 {
		t.Errorf("content has %d links, want 1", len(links))
	}
}

func TestBindLinkArtifact(t *testing.T) {
	s := New()
	ctx := context.Background()

	c := content.New("file", content.Key{"path": "x"})
	link := content.NewLink(c.ID, "x", id.ArtifactID{})
	link.URL = "https://remote/x"
	u := &content.Unit{Content: c, Links: []*content.RemoteLink{link}}
	if err := s.SaveUnit(ctx, u); err != nil {
		t.Fatalf("SaveUnit: %v", err)
	}

	got, err := s.GetLink(ctx, u.Links[0].ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if !got.ArtifactID.IsNil() {
		t.Fatal("deferred link should start unbound")
	}

	a, err := s.CreateArtifactIfAbsent(ctx, content.NewArtifact("sha256:x", 1))
	if err != nil {
		t.Fatalf("CreateArtifactIfAbsent: %v", err)
	}
	if err := s.BindLinkArtifact(ctx, got.ID, a.ID); err != nil {
		t.Fatalf("BindLinkArtifact: %v", err)
	}

	got, _ = s.GetLink(ctx, got.ID)
	if got.ArtifactID != a.ID {
		t.Errorf("link artifact = %s, want %s", got.ArtifactID, a.ID)
	}
}

func TestAddToRepositoryIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	c1 := content.New("file", content.Key{"path": "a"})
	c2 := content.New("file", content.Key{"path": "b"})

	if err := s.AddToRepository(ctx, "repo1", []id.ContentID{c1.ID, c2.ID}); err != nil {
		t.Fatalf("AddToRepository: %v", err)
	}
	// Replaying the same membership is harmless.
	if err := s.AddToRepository(ctx, "repo1", []id.ContentID{c2.ID, c1.ID}); err != nil {
		t.Fatalf("replay AddToRepository: %v", err)
	}

	ids, err := s.ListRepositoryContent(ctx, "repo1")
	if err != nil {
		t.Fatalf("ListRepositoryContent: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("repository has %d members, want 2", len(ids))
	}
}
