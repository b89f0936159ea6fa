// Package store defines the aggregate persistence interface. Each subsystem
// (task, reservation, cluster, content) defines its own store interface.
// The composite Store composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/syncforge/syncforge/cluster"
	"github.com/syncforge/syncforge/content"
	"github.com/syncforge/syncforge/reservation"
	"github.com/syncforge/syncforge/task"
)

// Store is the aggregate persistence interface. Each subsystem store is a
// composable interface; a single backend implements all of them so that
// task submission, reservation transitions, and content persistence can
// share one transaction boundary.
type Store interface {
	task.Store
	reservation.Store
	cluster.Store
	content.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
