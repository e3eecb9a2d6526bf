package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// ErrInvalidTransition is returned when a position is asked to move to a
	// state that is not directly reachable from its current one.
	ErrInvalidTransition = errors.New("invalid position transition")

	// ErrVenueTransient marks session or auth failures at the venue. Callers
	// may re-login and retry a bounded number of times.
	ErrVenueTransient = errors.New("venue transient error")

	// ErrVenueRejected marks business-rule rejections from the venue. Never
	// retried.
	ErrVenueRejected = errors.New("venue rejected request")

	ErrComputation     = errors.New("computation error")
	ErrPrecondition    = errors.New("precondition failed")
	ErrInvalidSettings = errors.New("invalid trading settings")
)
