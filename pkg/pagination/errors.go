package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateCollection indicates a collection that is already scheduled or running.
	ErrDuplicateCollection = errors.New("collection already running")

	// ErrInvalidJob indicates a job that cannot be run.
	ErrInvalidJob = errors.New("invalid job")
)

// StorageError reports a durable write that kept failing after local retries.
type StorageError struct {
	// Operation is "write_page", "save_checkpoint", "load_checkpoint" or "read_page".
	Operation  string
	Collection string
	Offset     int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s at offset %d after %d attempts: %v",
		e.Operation, e.Collection, e.Offset, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}
