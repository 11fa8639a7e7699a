package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable indicates that the durable store could not be
	// opened or written. Callers must surface this instead of silently
	// dropping the mutation.
	ErrStorageUnavailable = errors.New("durable store unavailable")

	// ErrNotFound indicates a lookup for an entity or operation that does not exist
	ErrNotFound = errors.New("not found")
)

// StorageError wraps a store failure with the operation that produced it
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// storageErr wraps err as a StorageError chained to ErrStorageUnavailable,
// so callers can branch with errors.Is(err, ErrStorageUnavailable).
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrStorageUnavailable, err)}
}
