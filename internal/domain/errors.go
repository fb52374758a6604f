package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrDataUnavailable  = errors.New("market data unavailable")
	ErrInsufficientData = errors.New("insufficient price history")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidState     = errors.New("invalid engine state")
	ErrLockHeld         = errors.New("lock already held")
)
