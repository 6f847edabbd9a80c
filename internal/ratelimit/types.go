package ratelimit

import (
	"context"
	"time"
)

// Limits holds the configured request budget of an API key per window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// For returns the configured limit for the given window.
func (l Limits) For(window Window) int {
	switch window {
	case WindowMinute:
		return l.PerMinute
	case WindowHour:
		return l.PerHour
	case WindowDay:
		return l.PerDay
	default:
		return 0
	}
}

// Validate reports ErrInvalidLimits when any window limit is not positive.
func (l Limits) Validate() error {
	for _, window := range Windows {
		if l.For(window) <= 0 {
			return ErrInvalidLimits
		}
	}
	return nil
}

// Decision describes the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	LimitType Window
	Limit     int
}

// WindowStatus reports the usage of one window instance.
type WindowStatus struct {
	Window    Window    `json:"window_type"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Status reports the usage of the current minute, hour and day windows.
type Status struct {
	Minute WindowStatus `json:"minute"`
	Hour   WindowStatus `json:"hour"`
	Day    WindowStatus `json:"day"`
}

// For returns the status of the given window.
func (s Status) For(window Window) WindowStatus {
	switch window {
	case WindowHour:
		return s.Hour
	case WindowDay:
		return s.Day
	default:
		return s.Minute
	}
}

// CounterKey identifies one fixed window instance of one API key.
type CounterKey struct {
	APIKeyID string
	Window   Window
	Start    time.Time
}

// CounterStore persists window counters. Implementations must make Consume atomic
// per CounterKey.
type CounterStore interface {
	// Consume creates the counter with count 1 when absent, increments it when the
	// current count is below limit, and otherwise leaves it untouched and reports
	// allowed=false. count is the stored value after the call.
	Consume(ctx context.Context, key CounterKey, limit int, expiresAt time.Time) (count int, allowed bool, err error)
	// Get returns the current count, or 0 when the counter does not exist.
	Get(ctx context.Context, key CounterKey) (int, error)
	// Init creates a zero counter when absent and never resets an existing one.
	Init(ctx context.Context, key CounterKey, expiresAt time.Time) error
}

// Pruner is implemented by stores that need explicit removal of expired counters.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// LimitsSource loads the configured limits of an API key.
type LimitsSource interface {
	Limits(ctx context.Context, apiKeyID, userID string) (Limits, error)
}
