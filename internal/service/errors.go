package service

import (
	"errors"
	"fmt"
)

// Expected-condition errors. Handlers map these onto HTTP statuses; anything
// else coming out of the service is treated as a transient internal failure
// the caller may retry.
var (
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	// ErrIntegrity marks an internally inconsistent stored record. It is
	// logged with detail at the point of discovery and surfaced to callers
	// as a generic failure.
	ErrIntegrity = errors.New("inconsistent record")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func integrityf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}
