package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrValidation              = errors.New("validation failed")
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrInvalidCurrency         = errors.New("invalid currency")
	ErrAuthentication          = errors.New("authentication failed")
	ErrRateLimited             = errors.New("rate limit exceeded")
	ErrGateway                 = errors.New("payment gateway error")
	ErrStorage                 = errors.New("storage error")
	ErrIllegalTransition       = errors.New("illegal payment status transition")
	ErrStaleEvent              = errors.New("event older than last applied event")
	ErrVersionConflict         = errors.New("order modified concurrently")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateOrder          = errors.New("order already exists")
)

// RateLimitError carries the delay after which the caller may retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsStorage reports whether err is a transient storage failure worth retrying.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
