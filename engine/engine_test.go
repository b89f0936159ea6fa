package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncforge/syncforge"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/store/memory"
	"github.com/syncforge/syncforge/task"
)

type syncPayload struct {
	Repository string `json:"repository"`
	Remote     string `json:"remote"`
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	c, err := syncforge.New(
		syncforge.WithStore(memory.New()),
		syncforge.WithLogger(slog.New(slog.DiscardHandler)),
		syncforge.WithConcurrency(2),
		syncforge.WithPollInterval(5*time.Millisecond),
		syncforge.WithHeartbeatInterval(20*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New coordinator: %v", err)
	}
	eng, err := Build(c, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return eng
}

func waitForTerminal(t *testing.T, eng *Engine, taskID id.TaskID) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := eng.Status(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if got.State.Terminal() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestEngineEndToEnd(t *testing.T) {
	eng := newTestEngine(t)

	Register(eng, task.NewDefinition("repo.sync", func(ctx context.Context, p syncPayload) (*task.Result, error) {
		return &task.Result{CreatedResources: []string{p.Repository + "/version/1"}}, nil
	}))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background())

	tk, err := Submit(context.Background(), eng, "repo.sync",
		syncPayload{Repository: "repo1", Remote: "https://remote"},
		[]string{"repo/repo1"},
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tk.State != task.StateWaiting {
		t.Errorf("submitted state = %s, want waiting", tk.State)
	}

	got := waitForTerminal(t, eng, tk.ID)
	if got.State != task.StateCompleted {
		t.Fatalf("state = %s (%s), want completed", got.State, got.Error)
	}
	if len(got.CreatedResources) != 1 || got.CreatedResources[0] != "repo1/version/1" {
		t.Errorf("created resources = %v", got.CreatedResources)
	}
}

func TestEngineGroupLifecycle(t *testing.T) {
	eng := newTestEngine(t)

	Register(eng, task.NewDefinition("noop", func(ctx context.Context, _ struct{}) (*task.Result, error) {
		return &task.Result{}, nil
	}))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background())

	g, err := eng.NewGroup(context.Background())
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	var ids []id.TaskID
	for _, repo := range []string{"a", "b", "c"} {
		tk, err := Submit(context.Background(), eng, "noop", struct{}{},
			[]string{"repo/" + repo}, task.WithGroup(g.ID))
		if err != nil {
			t.Fatalf("Submit(%s): %v", repo, err)
		}
		ids = append(ids, tk.ID)
	}

	status, err := eng.GroupStatus(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GroupStatus: %v", err)
	}
	if status.AllTasksDispatched {
		t.Error("group dispatched before FinishGroup")
	}
	if status.Done() {
		t.Error("group done before FinishGroup")
	}

	if err := eng.FinishGroup(context.Background(), g.ID); err != nil {
		t.Fatalf("FinishGroup: %v", err)
	}
	if err := eng.FinishGroup(context.Background(), g.ID); !errors.Is(err, syncforge.ErrGroupFinished) {
		t.Errorf("second FinishGroup err = %v, want ErrGroupFinished", err)
	}

	for _, tid := range ids {
		waitForTerminal(t, eng, tid)
	}

	status, err = eng.GroupStatus(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GroupStatus: %v", err)
	}
	if !status.Done() {
		t.Error("group not done after all tasks finished")
	}
	if len(status.Tasks) != 3 {
		t.Errorf("group has %d tasks, want 3", len(status.Tasks))
	}
}

func TestEngineCancelWaitingTask(t *testing.T) {
	// The engine is never started, so the submitted task stays waiting.
	eng := newTestEngine(t)

	Register(eng, task.NewDefinition("noop", func(ctx context.Context, _ struct{}) (*task.Result, error) {
		return &task.Result{}, nil
	}))

	tk, err := Submit(context.Background(), eng, "noop", struct{}{}, []string{"repo/a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, err := eng.Cancel(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != task.StateCanceled {
		t.Errorf("state = %s, want canceled", got.State)
	}

	if _, err := eng.Cancel(context.Background(), tk.ID); !errors.Is(err, syncforge.ErrInvalidState) {
		t.Errorf("cancel of terminal task err = %v, want ErrInvalidState", err)
	}
}

func TestEngineCancelRunningTask(t *testing.T) {
	eng := newTestEngine(t)

	entered := make(chan struct{})
	Register(eng, task.NewDefinition("slow", func(ctx context.Context, _ struct{}) (*task.Result, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background())

	tk, err := Submit(context.Background(), eng, "slow", struct{}{}, []string{"repo/a"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	got, err := eng.Cancel(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != task.StateRunning || !got.CancelRequested {
		t.Fatalf("cancel of running task: state=%s requested=%v", got.State, got.CancelRequested)
	}

	final := waitForTerminal(t, eng, tk.ID)
	if final.State != task.StateCanceled {
		t.Errorf("final state = %s, want canceled", final.State)
	}
}

func TestEngineUnknownPayloadType(t *testing.T) {
	eng := newTestEngine(t)

	Register(eng, task.NewDefinition("typed", func(ctx context.Context, p syncPayload) (*task.Result, error) {
		return &task.Result{}, nil
	}))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background())

	// A payload that cannot unmarshal into syncPayload fails the task.
	tk, err := eng.SubmitRaw(context.Background(), "typed", []byte(`"not an object"`), []string{"repo/a"})
	if err != nil {
		t.Fatalf("SubmitRaw: %v", err)
	}

	got := waitForTerminal(t, eng, tk.ID)
	if got.State != task.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
}
