package sync

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Report accumulates the outcome of one sync run. It is safe for
// concurrent use by the pipeline stages.
type Report struct {
	mu sync.Mutex

	// Created counts content units newly persisted by this run.
	Created int
	// Reused counts content units that already existed and were rebound.
	Reused int
	// Fetched counts artifacts downloaded and verified by this run.
	Fetched int
	// BytesFetched is the total size of fetched artifacts.
	BytesFetched int64
	// Deferred counts artifacts whose fetch was skipped by policy.
	Deferred int

	contentErrors *multierror.Error
}

func (r *Report) addCreated() {
	r.mu.Lock()
	r.Created++
	r.mu.Unlock()
}

func (r *Report) addReused() {
	r.mu.Lock()
	r.Reused++
	r.mu.Unlock()
}

func (r *Report) addFetched(size int64) {
	r.mu.Lock()
	r.Fetched++
	r.BytesFetched += size
	r.mu.Unlock()
}

func (r *Report) addDeferred() {
	r.mu.Lock()
	r.Deferred++
	r.mu.Unlock()
}

func (r *Report) addContentError(err error) {
	r.mu.Lock()
	r.contentErrors = multierror.Append(r.contentErrors, err)
	r.mu.Unlock()
}

// ContentErrors returns the per-item errors recorded during the run.
// These did not abort the sync; callers surface them in the task report.
func (r *Report) ContentErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.contentErrors == nil {
		return nil
	}
	return r.contentErrors.WrappedErrors()
}

// ErrorOrNil returns the accumulated content errors as a single error, or
// nil if every item persisted cleanly.
func (r *Report) ErrorOrNil() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentErrors.ErrorOrNil()
}
