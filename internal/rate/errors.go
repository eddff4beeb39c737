package rate

import "errors"

var (
	// ErrRateLimited is returned once a subject has used up its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrCounterUnavailable wraps counter backend failures.
	ErrCounterUnavailable = errors.New("rate counter unavailable")
)
