// Package apperr defines the sentinel errors the HTTP boundary translates
// into status codes. Everything upstream of the boundary wraps one of
// these with fmt.Errorf("...: %w", ...); nothing else is inspected.
package apperr

import "errors"

var (
	// ErrValidation marks a client-fault input: bad chunk index, unknown
	// uploadId, malformed field. Maps to 400. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing resource (task, upload session). Maps to 404.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks a failed API-key check. Maps to 401.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal marks an infrastructure failure (store, bus, object store).
	// Maps to 500. May be transient.
	ErrInternal = errors.New("internal error")
)
