package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("listing no longer available")
	ErrValidation = errors.New("validation failed")
	ErrUpstream   = errors.New("payment provider unavailable")

	// ErrIntegrity marks states that should never happen, such as paying a FAILED order.
	// They are reported to operators instead of being retried.
	ErrIntegrity = errors.New("integrity violation")
)
