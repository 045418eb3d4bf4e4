package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict signals a storage uniqueness violation. The login
	// reconciler treats it as a concurrent first-login for the same email
	// and retries the lookup instead of failing the request.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput covers malformed submissions, including identity
	// locators the handshake cannot even start with.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned for unknown, expired or replayed
	// handshake state.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrIdentityIncomplete is returned when the provider asserted no
	// email. The user record is never touched in that case.
	ErrIdentityIncomplete = errors.New("asserted identity has no email")
)
