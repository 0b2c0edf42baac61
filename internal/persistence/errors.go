package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrStaleState is returned when a conditional write finds the record in an
	// unexpected state, for example resolving a change request that is no longer pending.
	ErrStaleState = errors.New("persistence: stale state")
)
