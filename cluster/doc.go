// Package cluster provides distributed worker coordination: worker
// registration, heartbeats, liveness, and leader election.
//
// # Worker Entity
//
// Each running worker process registers itself as a [Worker] with a unique
// [id.WorkerID], its hostname, its concurrency limit, and a state:
// [WorkerActive], [WorkerDraining], or [WorkerDead].
//
// Workers write periodic heartbeats (worker_id, timestamp) to the shared
// store; any component can read them to compute liveness. A worker whose
// last heartbeat exceeds the configured TTL is declared offline, and the
// tasks and reservations it held become eligible for orphan reclamation.
// There is no process-wide singleton: the registry row in the shared store,
// keyed by worker identity, is the worker's liveness state.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader runs the orphan sweeper
// so that concurrent sweeps do not race each other. Leadership is managed
// by [Store.AcquireLeadership] with a TTL and renewed before expiry.
package cluster
