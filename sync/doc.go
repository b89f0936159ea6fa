// Package sync implements the declarative content pipeline: remote metadata
// is turned into declarative content units which flow through resolver,
// downloader, saver, and membership stages connected by bounded channels.
//
// The resolver batches natural-key and digest lookups so already-persisted
// rows are reused instead of re-fetched. The downloader fetches and verifies
// artifact bytes under a concurrency bound. The saver persists new units
// with create-if-absent semantics and resolves each item's future. The
// membership stage records repository membership idempotently.
//
// A digest or size mismatch is a content error: it is recorded against the
// item and surfaced in the sync report without aborting the run. Transport
// failures are retried by the fetcher; once retries are exhausted the run
// aborts.
package sync
