package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRequiredConstraint = errors.New("required constraint violated")
	ErrEnumConstraint     = errors.New("enum constraint violated")
	ErrInvalidQuote       = errors.New("invalid quote")
	ErrInvalidTree        = errors.New("invalid tree")
	ErrIDSpaceExhausted   = errors.New("node id space exhausted")
	ErrIntegrity          = errors.New("integrity hash mismatch")
	ErrSignature          = errors.New("signature verification failed")
)

// ErrLockHeld is returned when a distributed lock is owned by someone else.
var ErrLockHeld = errors.New("lock held")
