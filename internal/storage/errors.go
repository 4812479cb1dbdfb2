// Package storage defines the error sentinels shared by store
// implementations and their consumers.
package storage

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateBinding is returned when a mapping upsert would bind an
	// already-bound internal or external id to a different counterpart.
	ErrDuplicateBinding = errors.New("duplicate mapping binding")

	// ErrNoQueuedJob is returned when a worker tries to claim a job and the
	// queue is empty.
	ErrNoQueuedJob = errors.New("no queued import job")

	// ErrJobNotCancellable is returned when a cancel is requested for a job
	// that exists but already reached a terminal status.
	ErrJobNotCancellable = errors.New("import job is not cancellable")
)
