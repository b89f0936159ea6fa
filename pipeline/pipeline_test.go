package pipeline_test

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/pipeline"
)

// emitN is a first stage producing n items.
func emitN(n int) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: "emit",
		Fn: func(ctx context.Context, _ <-chan *content.Declarative, out chan<- *content.Declarative) error {
			for i := 0; i < n; i++ {
				d := content.NewDeclarative("test", content.Key{"n": strconv.Itoa(i)})
				if err := pipeline.Send(ctx, out, d); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// forward passes items through, invoking fn on each.
func forward(name string, fn func(*content.Declarative)) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: name,
		Fn: func(ctx context.Context, in <-chan *content.Declarative, out chan<- *content.Declarative) error {
			for d := range in {
				if fn != nil {
					fn(d)
				}
				if out != nil {
					if err := pipeline.Send(ctx, out, d); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func TestPipeline_AllItemsFlowThrough(t *testing.T) {
	var seen atomic.Int64
	p := pipeline.New([]pipeline.Stage{
		emitN(250),
		forward("middle", nil),
		forward("sink", func(*content.Declarative) { seen.Add(1) }),
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if seen.Load() != 250 {
		t.Errorf("sink saw %d items, want 250", seen.Load())
	}
}

func TestPipeline_PreservesProducerOrder(t *testing.T) {
	var got []string
	p := pipeline.New([]pipeline.Stage{
		emitN(50),
		forward("sink", func(d *content.Declarative) { got = append(got, d.Key["n"]) }),
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	for i, n := range got {
		if n != strconv.Itoa(i) {
			t.Fatalf("item %d out of order: got %q", i, n)
		}
	}
}

func TestPipeline_FatalErrorCancelsAll(t *testing.T) {
	boom := errors.New("boom")

	// The failing sink stops consuming; the producer must not deadlock on
	// a full channel — cancellation has to unblock it.
	p := pipeline.New([]pipeline.Stage{
		emitN(10_000),
		pipeline.StageFunc{
			StageName: "failing-sink",
			Fn: func(_ context.Context, in <-chan *content.Declarative, _ chan<- *content.Declarative) error {
				<-in
				return boom
			},
		},
	}, pipeline.WithCapacity(1))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("Run error = %v, want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline deadlocked after fatal stage error")
	}
}

func TestPipeline_BackpressureBoundsProducer(t *testing.T) {
	var produced atomic.Int64
	release := make(chan struct{})

	p := pipeline.New([]pipeline.Stage{
		pipeline.StageFunc{
			StageName: "emit",
			Fn: func(ctx context.Context, _ <-chan *content.Declarative, out chan<- *content.Declarative) error {
				for i := 0; i < 100; i++ {
					if err := pipeline.Send(ctx, out, content.NewDeclarative("t", content.Key{})); err != nil {
						return err
					}
					produced.Add(1)
				}
				return nil
			},
		},
		pipeline.StageFunc{
			StageName: "stalled-sink",
			Fn: func(_ context.Context, in <-chan *content.Declarative, _ chan<- *content.Declarative) error {
				<-release
				for range in { //nolint:revive // drain
				}
				return nil
			},
		},
	}, pipeline.WithCapacity(4))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	// Give the producer time to run ahead if it could.
	time.Sleep(100 * time.Millisecond)
	if n := produced.Load(); n > 5 {
		t.Errorf("producer ran %d items ahead of a stalled consumer, want <= 5", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if produced.Load() != 100 {
		t.Errorf("produced = %d, want 100", produced.Load())
	}
}

func TestPipeline_EmptyIsNoop(t *testing.T) {
	if err := pipeline.New(nil).Run(context.Background()); err != nil {
		t.Fatalf("empty pipeline error: %v", err)
	}
}

func TestPipeline_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := pipeline.New([]pipeline.Stage{
		pipeline.StageFunc{
			StageName: "infinite",
			Fn: func(ctx context.Context, _ <-chan *content.Declarative, out chan<- *content.Declarative) error {
				for {
					if err := pipeline.Send(ctx, out, content.NewDeclarative("t", content.Key{})); err != nil {
						return err
					}
				}
			},
		},
		forward("sink", nil),
	}, pipeline.WithCapacity(1))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not observe cancellation")
	}
}
