// Package content defines the data model of the declarative content
// pipeline: in-memory declarations of content units and their artifacts,
// the persisted rows they deduplicate against, and the store contract that
// makes persistence idempotent.
//
// A [Declarative] is exclusively owned by the pipeline stage currently
// processing it and is passed by move between stages — it is never mutated
// by two stages concurrently. Persisted [Content] is the logical unit,
// keyed by a natural uniqueness tuple; [Artifact] is byte storage
// deduplicated by digest and safe to share across unrelated content. The
// association between them ([RemoteLink]) may carry a nil artifact — that
// null-ability is exactly what enables the deferred and streamed policies.
package content
