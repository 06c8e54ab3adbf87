// Package common defines sentinel errors and small helpers shared by the
// gophdrive packages. Callers should use errors.Is to match the errors.
package common

import "errors"

var (
	// Repository-level errors. Also returned for entities owned by someone
	// else and for failed trash preconditions, so existence never leaks.
	ErrorNotFound = errors.New("not found")

	// Structural errors: cycles, self-moves, a move target inside its own batch.
	ErrInvalidOperation = errors.New("invalid operation")

	// Key derivation or cipher internals failed. A token that merely does not
	// decrypt is not an error.
	ErrCryptoFailure = errors.New("crypto failure")

	// Input rejected before touching the store.
	ErrorValidation = errors.New("validation error")

	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
