package storage

import "errors"

var (
	// ErrNotFound is returned when a requested item is not found in storage
	ErrNotFound = errors.New("item not found")

	// ErrStoreClosed is returned when attempting to use a closed storage instance
	ErrStoreClosed = errors.New("storage is closed")

	// ErrNonSequentialCommit is returned when a block does not come after the last committed block
	ErrNonSequentialCommit = errors.New("block does not follow the last committed block")

	// ErrRewindTooDeep is returned when the journal needed to rewind has been pruned
	ErrRewindTooDeep = errors.New("rewind target is below the pruned journal")
)
