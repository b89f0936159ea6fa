package syncforge

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("syncforge: no store configured")
	ErrStoreClosed     = errors.New("syncforge: store closed")
	ErrMigrationFailed = errors.New("syncforge: migration failed")

	// Not found errors.
	ErrTaskNotFound        = errors.New("syncforge: task not found")
	ErrGroupNotFound       = errors.New("syncforge: task group not found")
	ErrReservationNotFound = errors.New("syncforge: reservation not found")
	ErrWorkerNotFound      = errors.New("syncforge: worker not found")
	ErrContentNotFound     = errors.New("syncforge: content not found")
	ErrArtifactNotFound    = errors.New("syncforge: artifact not found")
	ErrLinkNotFound        = errors.New("syncforge: remote link not found")
	ErrBlobNotFound        = errors.New("syncforge: blob not found")

	// Conflict errors.
	// ErrReservationConflict means an acquire attempt lost a race: either an
	// overlapping reservation is held, or the attempt's timestamp was not
	// strictly newer than the per-key watermark (clock skew between
	// machines). Conflicts are retried transparently by the claim path and
	// never surface to callers.
	ErrReservationConflict = errors.New("syncforge: reservation conflict")
	ErrTaskAlreadyExists   = errors.New("syncforge: task already exists")

	// State errors.
	ErrInvalidState  = errors.New("syncforge: invalid state transition")
	ErrGroupFinished = errors.New("syncforge: task group already finished")

	// ErrWorkerLost is the distinguished failure applied to running tasks
	// whose worker stopped heartbeating. It is reported, not retried: the
	// caller must resubmit.
	ErrWorkerLost = errors.New("syncforge: worker lost")

	// Content errors. These are recorded against individual pipeline items
	// and surface in the task's final report without aborting the pipeline.
	ErrDigestMismatch = errors.New("syncforge: artifact digest mismatch")
	ErrSizeMismatch   = errors.New("syncforge: artifact size mismatch")
)
