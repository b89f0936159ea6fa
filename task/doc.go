// Package task defines the task entity, its state machine, task groups,
// typed definitions, and the store interface.
//
// # Task Entity
//
// A [Task] represents a unit of asynchronous work with a declared resource
// set. It embeds [syncforge.Entity] for timestamps, carries a typed payload
// (JSON), and progresses through a state machine:
//
//	waiting → running → completed
//	waiting → running → failed
//	waiting → canceled
//	waiting → running → canceled
//
// The machine is linear except for cancellation, which is accepted from
// waiting or running. A task reaches running only once a held reservation
// covers its declared resources.
//
// Fields of note:
//   - Resources: the canonical resource-key set the task must hold
//   - GroupID: optional aggregation into a [Group]
//   - CreatedResources: ordered opaque handles reported at completion
//   - Report: per-item content errors that did not abort the task
//   - CancelRequested: advisory flag observed by the executing worker
//
// # Defining a Task
//
// Use [Definition] with a typed handler. The payload is JSON-serialized at
// submit time and deserialized before the handler runs:
//
//	var SyncRepository = task.NewDefinition("sync_repository",
//	    func(ctx context.Context, input SyncInput) (*task.Result, error) {
//	        return runSync(ctx, input)
//	    },
//	)
//
// # Registry
//
// [Registry] maps task names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]. The engine
// package provides higher-level engine.Register and engine.Submit wrappers.
package task
