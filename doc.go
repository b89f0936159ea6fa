// Package syncforge is the execution core of a content-synchronization
// platform. It decides when a unit of asynchronous work may run without
// colliding with other work touching the same resources, and it moves
// discovered remote content through a pipeline of concurrent stages that
// fetch, deduplicate, and persist it.
//
// Syncforge is designed as a library, not a service. Import it, configure a
// store, register task handlers as ordinary Go functions, and submit tasks
// with their declared resource sets.
//
// # Quick Start
//
//	c, err := syncforge.New(
//	    syncforge.WithStore(pgStore),
//	    syncforge.WithConcurrency(4),
//	)
//
// # Architecture
//
// Each subsystem (task, reservation, cluster, content) defines its own store
// interface. A single backend implements all of them. Mutual exclusion is
// enforced by the reservation ledger: a task reaches running state only once
// a reservation covering its declared resources is held, and reservations on
// overlapping resource sets are never held concurrently.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package syncforge
