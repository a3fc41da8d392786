// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/job layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict indicates the package is not in a state allowing the operation.
	ErrStateConflict = errors.New("state conflict")

	// ErrValidation indicates malformed or incomplete caller input.
	ErrValidation = errors.New("validation failed")

	// ErrGuardConflict indicates a one-shot guard was already set by a
	// concurrent writer (conditional update matched no rows).
	ErrGuardConflict = errors.New("guard already set")

	// ErrInsufficientCredits indicates the owner's document allowance cannot
	// cover the send.
	ErrInsufficientCredits = errors.New("insufficient document credits")

	// ErrForbidden indicates the actor is not allowed to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the operation exceeded its send allowance for
	// the current window.
	ErrRateLimited = errors.New("rate limited")
)
