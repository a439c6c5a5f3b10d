package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrIntegrity indicates a storage integrity violation.
	ErrIntegrity = errors.New("integrity violation")
	// ErrInternal wraps residual failures.
	ErrInternal = errors.New("internal error")
)
