package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned by Create when the identity is taken.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrFinalizersPresent is returned by Delete while the resource still
	// carries finalizers. The delete is recorded as a deletion timestamp
	// instead of a removal.
	ErrFinalizersPresent = errors.New("resource has pending finalizers")
)

// ConflictError reports a version mismatch on a conditional write.
type ConflictError struct {
	Key             string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: expected version %d, stored version is %d",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

// IsConflict reports whether err is (or wraps) a version conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
