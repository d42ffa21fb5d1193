package domain

import "errors"

// Sentinel error kinds returned by the core. The HTTP layer maps these to
// status codes and performs no business logic of its own.
var (
	// ErrValidation covers bad input shape or range. Detected before any
	// storage I/O.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidName is returned when an agent name is empty after
	// sanitization.
	ErrInvalidName = errors.New("invalid agent name")

	// ErrUnauthorizedReport is returned when a work report's signature is
	// missing or does not verify against the agent's stored public key.
	ErrUnauthorizedReport = errors.New("unauthorized report")

	ErrIdentityNotFound  = errors.New("identity not found")
	ErrParentNotFound    = errors.New("parent identity not found")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrRateLimited       = errors.New("rate limit exceeded")

	// ErrPersistence wraps storage connectivity failures and timeouts.
	// Retryable by the caller; the core never retries internally.
	ErrPersistence = errors.New("persistence failure")

	// ErrPartialRegistration marks an identity that was created but whose
	// registration event failed to append. Surfaced as a warning alongside
	// the created identity, never as a hard failure.
	ErrPartialRegistration = errors.New("partial registration")
)
