// Package sentinel holds the errors stores return. Services translate them
// into domain errors exactly once, at the service boundary.
package sentinel

import "errors"

var (
	// ErrNotFound: no detection, lockout record, or counter for the key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: a filter or cursor the store cannot apply.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState: a compare-and-set lost, e.g. a detection already left open.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing store did not answer; callers apply the fail mode.
	ErrUnavailable = errors.New("unavailable")
	// ErrAlreadyExists: a detection for the event id was recorded earlier.
	ErrAlreadyExists = errors.New("already exists")
)
