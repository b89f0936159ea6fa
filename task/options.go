package task

import (
	"time"

	"github.com/syncforge/syncforge/id"
)

// Options configures per-task behavior.
type Options struct {
	// GroupID aggregates the task into a task group. Nil means no group.
	GroupID id.GroupID

	// Timeout is the maximum duration the task body may run before its
	// context is canceled. Zero means unlimited.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{}
}

// Option is a functional option for task submission.
type Option func(*Options)

// WithGroup aggregates the task into the given task group.
func WithGroup(groupID id.GroupID) Option {
	return func(o *Options) {
		o.GroupID = groupID
	}
}

// WithTimeout sets the maximum execution duration for the task body.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
