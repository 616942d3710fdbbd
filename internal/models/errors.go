package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key, record or asset does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient marks a recoverable failure (network, timeout, remote 5xx).
	// The unit of work that hit it is retried by the next ingestion run.
	ErrTransient = errors.New("transient failure")

	// ErrStorage marks a durable write or read failure on the local store.
	ErrStorage = errors.New("storage failure")

	// ErrProviderUnavailable is returned when an embedding provider fails or times out.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrDimensionMismatch is returned when vector lengths disagree.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument is returned for bad caller input (k <= 0, empty query, zero vector).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyCollection is returned when an index would hold, or holds, no vectors.
	ErrEmptyCollection = errors.New("empty collection")
)

// DimensionMismatchError carries the expected and actual vector lengths.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is reports whether target is ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// StorageError wraps a filesystem failure with the operation and path involved.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// TransientError wraps a recoverable remote failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransient.
func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// ProviderError wraps an embedding provider failure.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports whether target is ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}
