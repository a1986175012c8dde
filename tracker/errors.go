package tracker

import (
	"errors"
	"fmt"
)

// ErrNotFound is reserved for optional lookups. Unknown users or scripts on a
// status query are not an error and never produce it.
var ErrNotFound = errors.New("not found")

// ValidationError reports a missing or malformed input field. No state was
// touched when it is returned.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError wraps a persistence failure. The operation did not take effect.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
