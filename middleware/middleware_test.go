package middleware

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/resource"
	"github.com/syncforge/syncforge/task"
)

func testTask(name string) *task.Task {
	return &task.Task{
		ID:        id.NewTaskID(),
		Name:      name,
		State:     task.StateRunning,
		Resources: resource.NewSet(resource.NewKey("repo", "a")),
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(ctx context.Context, tk *task.Task, next Handler) (*task.Result, error) {
			order = append(order, name+":before")
			res, err := next(ctx)
			order = append(order, name+":after")
			return res, err
		}
	}

	chain := Chain(mk("outer"), mk("inner"))
	_, err := chain(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		order = append(order, "handler")
		return &task.Result{}, nil
	})
	if err != nil {
		t.Fatalf("chain returned error: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("got %d steps, want %d: %v", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestChainEmpty(t *testing.T) {
	called := false
	chain := Chain()
	_, err := chain(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("empty chain returned error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := Recover(logger)

	_, err := mw(context.Background(), testTask("panicky"), func(ctx context.Context) (*task.Result, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRecoverPassthrough(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := Recover(logger)

	wantErr := errors.New("handler error")
	_, err := mw(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestTimeoutEnforced(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := Timeout(logger)

	tk := testTask("slow")
	tk.Timeout = 10 * time.Millisecond

	_, err := mw(context.Background(), tk, func(ctx context.Context) (*task.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &task.Result{}, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutZeroMeansNone(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := Timeout(logger)

	tk := testTask("fast")
	_, err := mw(context.Background(), tk, func(ctx context.Context) (*task.Result, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context")
		}
		return &task.Result{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoggingPassthrough(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mw := Logging(logger)

	want := &task.Result{CreatedResources: []string{"repo/a"}}
	got, err := mw(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("result not passed through")
	}
}

func TestTracingPassthrough(t *testing.T) {
	mw := Tracing()

	wantErr := errors.New("traced failure")
	_, err := mw(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestMetricsPassthrough(t *testing.T) {
	mw := Metrics()

	want := &task.Result{}
	got, err := mw(context.Background(), testTask("t"), func(ctx context.Context) (*task.Result, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("result not passed through")
	}
}
