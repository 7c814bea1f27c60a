package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrDataUnavailable     = errors.New("market data unavailable")
	ErrLockHeld            = errors.New("lock already held")
	ErrBreakerOpen         = errors.New("exchange circuit breaker open")
	ErrNetwork             = errors.New("network error")
	ErrOrderRejected       = errors.New("order rejected")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid position status transition")
	ErrConfigInconsistent  = errors.New("config inconsistent")
)
