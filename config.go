package syncforge

import "time"

// Config holds configuration for the Coordinator.
type Config struct {
	// Concurrency is the maximum number of tasks a worker process executes
	// concurrently. Each task body may itself run a multi-stage pipeline.
	Concurrency int

	// PollInterval is the base interval between claim attempts when no
	// work is available. The pool backs off from this value while idle.
	PollInterval time.Duration

	// MaxPollInterval caps the idle-poll backoff.
	MaxPollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the worker writes its liveness
	// timestamp to the cluster store.
	HeartbeatInterval time.Duration

	// WorkerTTL is how long a worker may go without a heartbeat before any
	// other live component declares it offline. Must be comfortably larger
	// than HeartbeatInterval.
	WorkerTTL time.Duration

	// SweepInterval is how often the orphan sweeper looks for tasks and
	// reservations held by offline workers.
	SweepInterval time.Duration

	// DownloadConcurrency bounds in-flight artifact fetches per pipeline.
	DownloadConcurrency int

	// TransportRetries bounds transparent retries of transport errors
	// (network or store I/O) before they escalate to content errors.
	TransportRetries int
}

// DefaultConfig returns a Config with sensible defaults. The TTL and retry
// bounds are operational tunables; override them per deployment.
func DefaultConfig() Config {
	return Config{
		Concurrency:         4,
		PollInterval:        500 * time.Millisecond,
		MaxPollInterval:     5 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		WorkerTTL:           30 * time.Second,
		SweepInterval:       30 * time.Second,
		DownloadConcurrency: 10,
		TransportRetries:    3,
	}
}
