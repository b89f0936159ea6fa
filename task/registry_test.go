package task_test

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/syncforge/syncforge/task"
)

type syncInput struct {
	Remote string `json:"remote"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := task.NewRegistry()

	def := task.NewDefinition("sync_repository", func(_ context.Context, in syncInput) (*task.Result, error) {
		return &task.Result{CreatedResources: []string{in.Remote}}, nil
	})
	task.RegisterDefinition(reg, def)

	handler, ok := reg.Get("sync_repository")
	if !ok {
		t.Fatal("handler not found after registration")
	}

	payload, _ := json.Marshal(syncInput{Remote: "rpm-main"})
	res, err := handler(context.Background(), payload)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(res.CreatedResources) != 1 || res.CreatedResources[0] != "rpm-main" {
		t.Errorf("CreatedResources = %v, want [rpm-main]", res.CreatedResources)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := task.NewRegistry()

	if _, ok := reg.Get("nope"); ok {
		t.Error("Get should report false for unregistered names")
	}
}

func TestRegistry_BadPayload(t *testing.T) {
	reg := task.NewRegistry()
	task.RegisterDefinition(reg, task.NewDefinition("typed", func(_ context.Context, _ syncInput) (*task.Result, error) {
		return &task.Result{}, nil
	}))

	handler, _ := reg.Get("typed")
	if _, err := handler(context.Background(), []byte("{not json")); err == nil {
		t.Error("expected unmarshal error for malformed payload")
	}
}

func TestRegistry_EmptyPayloadSkipsUnmarshal(t *testing.T) {
	reg := task.NewRegistry()
	called := false
	task.RegisterDefinition(reg, task.NewDefinition("empty", func(_ context.Context, in syncInput) (*task.Result, error) {
		called = true
		if in.Remote != "" {
			t.Errorf("expected zero-value input, got %+v", in)
		}
		return &task.Result{}, nil
	}))

	handler, _ := reg.Get("empty")
	if _, err := handler(context.Background(), nil); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := task.NewRegistry()
	noop := func(_ context.Context, _ struct{}) (*task.Result, error) { return &task.Result{}, nil }
	task.RegisterDefinition(reg, task.NewDefinition("b", noop))
	task.RegisterDefinition(reg, task.NewDefinition("a", noop))

	names := reg.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}

func TestGroupStatus_Done(t *testing.T) {
	gs := &task.GroupStatus{
		AllTasksDispatched: false,
		Tasks:              []*task.Task{{State: task.StateCompleted}},
	}
	if gs.Done() {
		t.Error("group without all_tasks_dispatched must not be done")
	}

	gs.AllTasksDispatched = true
	if !gs.Done() {
		t.Error("group with all terminal tasks should be done")
	}

	gs.Tasks = append(gs.Tasks, &task.Task{State: task.StateRunning})
	if gs.Done() {
		t.Error("group with a running task must not be done")
	}
}
