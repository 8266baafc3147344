package models

import (
	"errors"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation error")

	// ErrInsufficientCredits is returned synchronously when a reservation is
	// denied; no job is created and no executor runs.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrRateLimited marks a retryable provider rate-limit rejection.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRetriesExhausted is the terminal form of ErrRateLimited after the
	// pacing queue has used up its retry budget.
	ErrRetriesExhausted = errors.New("rate limit retries exhausted")

	ErrJobNotRetryable = errors.New("job is not retryable")
	ErrQueueClosed     = errors.New("queue is closed")
)
