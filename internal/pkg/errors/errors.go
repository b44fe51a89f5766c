package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	// ErrUnavailable marks a fault of the backing document store.
	ErrUnavailable = errors.New("store unavailable")
)

// ErrAlreadyExists is returned when an insert violates a unique key.
var ErrAlreadyExists = ErrConflict

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
