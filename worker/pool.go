package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/syncforge/syncforge/backoff"
	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/ext"
	"github.com/syncforge/syncforge/id"
	"github.com/syncforge/syncforge/task"
)

// Pool manages a set of concurrent claim goroutines that promote waiting
// tasks to running and execute them through the Executor. One pool is one
// worker in the cluster: it registers itself, heartbeats, and — when it
// holds leadership — sweeps orphaned tasks left by dead workers.
type Pool struct {
	store      Store
	executor   *Executor
	extensions *ext.Registry
	logger     *slog.Logger

	workerID    id.WorkerID
	hostname    string
	concurrency int

	pollInterval    time.Duration
	maxPollInterval time.Duration
	idle            backoff.Strategy

	heartbeatInterval time.Duration
	workerTTL         time.Duration
	sweepInterval     time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeTasks map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent claim goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets the initial delay between empty claim attempts.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithMaxPollInterval caps the idle-poll backoff.
func WithMaxPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.maxPollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats its cluster
// registration.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithWorkerTTL sets how long a worker may go without heartbeating before
// the sweeper treats it as dead and reclaims its tasks.
func WithWorkerTTL(d time.Duration) PoolOption {
	return func(p *Pool) { p.workerTTL = d }
}

// WithSweepInterval sets how often the pool attempts the orphan sweep.
// A zero value disables sweeping on this pool.
func WithSweepInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.sweepInterval = d }
}

// NewPool creates a worker pool.
func NewPool(
	store Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	hostname, _ := os.Hostname()
	p := &Pool{
		store:             store,
		executor:          executor,
		extensions:        extensions,
		logger:            logger,
		workerID:          id.NewWorkerID(),
		hostname:          hostname,
		concurrency:       10,
		pollInterval:      time.Second,
		maxPollInterval:   30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		workerTTL:         30 * time.Second,
		sweepInterval:     30 * time.Second,
		stopCh:            make(chan struct{}),
		activeTasks:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.idle = backoff.DefaultPolling(p.pollInterval, p.maxPollInterval)
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start registers the worker and launches the claim, heartbeat, and sweep
// goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	w := &cluster.Worker{
		ID:          p.workerID,
		Hostname:    p.hostname,
		Concurrency: p.concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.RegisterWorker(ctx, w); err != nil {
		return err
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.String("hostname", p.hostname),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.sweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	return nil
}

// Stop signals all loops to stop and waits for in-flight tasks to settle.
// If the context has a deadline, remaining active tasks are canceled when
// time runs out; their handlers observe the cancellation and settle as
// canceled or failed before the pool returns.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, canceling active tasks")
		p.cancelActiveTasks()
		p.wg.Wait()
	}

	if err := p.store.DeregisterWorker(context.WithoutCancel(ctx), p.workerID); err != nil {
		p.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
	return nil
}

// claimLoop is run by each claim goroutine. It claims one task at a time
// and paces empty polls with exponential backoff, resetting whenever work
// is found.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	attempt := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		tasks, err := p.store.ClaimTasks(context.Background(), p.workerID, 1)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			attempt++
			p.sleep(attempt)
			continue
		}

		if len(tasks) == 0 {
			attempt++
			p.sleep(attempt)
			continue
		}
		attempt = 0

		p.runTask(tasks[0])
	}
}

// runTask executes one claimed task under a cancelable context that the
// heartbeat loop can trip when cancellation is requested.
func (p *Pool) runTask(t *task.Task) {
	p.extensions.EmitTaskStarted(context.Background(), t)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackTask(t.ID.String(), cancel)
	defer func() {
		p.untrackTask(t.ID.String())
		cancel()
	}()

	if err := p.executor.Execute(ctx, t); err != nil {
		p.logger.Debug("task execution failed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop keeps the cluster registration fresh and surfaces advisory
// cancellation to running handlers by tripping their contexts.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.store.HeartbeatWorker(context.Background(), p.workerID); err != nil {
				p.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
			}
			p.propagateCancellations()
		}
	}
}

// propagateCancellations cancels the context of every active task whose
// CancelRequested flag was set since the last tick.
func (p *Pool) propagateCancellations() {
	p.activeMu.Lock()
	active := make(map[string]context.CancelFunc, len(p.activeTasks))
	for tid, cancel := range p.activeTasks {
		active[tid] = cancel
	}
	p.activeMu.Unlock()

	for tid, cancel := range active {
		parsed, err := id.ParseTaskID(tid)
		if err != nil {
			continue
		}
		t, err := p.store.GetTask(context.Background(), parsed)
		if err != nil {
			continue
		}
		if t.CancelRequested {
			p.logger.Info("propagating cancellation", slog.String("task_id", tid))
			cancel()
		}
	}
}

// sweepLoop periodically reclaims tasks owned by workers that stopped
// heartbeating. Only the cluster leader sweeps, so a large fleet does not
// stampede the store; leadership is leased for two sweep intervals and
// renewed on each pass.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	leaseTTL := 2 * p.sweepInterval

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ok, err := p.store.AcquireLeadership(context.Background(), p.workerID, leaseTTL)
			if err != nil {
				p.logger.Warn("leadership acquire failed", slog.String("error", err.Error()))
				continue
			}
			if !ok {
				continue
			}
			p.sweepOrphans()
		}
	}
}

// sweepOrphans fails tasks whose workers are past the TTL and reports them.
func (p *Pool) sweepOrphans() {
	reaped, err := p.store.ReapOrphanedTasks(context.Background(), p.workerTTL)
	if err != nil {
		p.logger.Error("orphan sweep error", slog.String("error", err.Error()))
		return
	}

	for _, t := range reaped {
		p.extensions.EmitTaskOrphaned(context.Background(), t)
		p.logger.Warn("reclaimed orphaned task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_name", t.Name),
			slog.String("worker_id", t.WorkerID.String()),
		)
	}
}

func (p *Pool) sleep(attempt int) {
	select {
	case <-time.After(p.idle.Delay(attempt)):
	case <-p.stopCh:
	}
}

func (p *Pool) trackTask(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(taskID string) {
	p.activeMu.Lock()
	delete(p.activeTasks, taskID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.activeTasks {
		p.logger.Warn("canceling active task", slog.String("task_id", taskID))
		cancel()
	}
}
