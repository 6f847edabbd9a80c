package ratelimit

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the API key or its limit configuration does not exist.
	ErrConfigNotFound = errors.New("rate limit: configuration not found")
	// ErrInvalidLimits indicates a stored limit is not a positive integer.
	ErrInvalidLimits = fmt.Errorf("%w: limits must be positive", ErrConfigNotFound)
	// ErrStoreUnavailable indicates the counter store could not serve the request.
	ErrStoreUnavailable = errors.New("rate limit: counter store unavailable")
	// ErrRaceRetryExhausted indicates optimistic retries on a counter were exhausted.
	ErrRaceRetryExhausted = fmt.Errorf("%w: race retries exhausted", ErrStoreUnavailable)
)

// storeError wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
func storeError(action string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, action, err)
}
