package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LocationProvider returns the timezone used to align window boundaries.
type LocationProvider func() *time.Location

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(nowFn func() time.Time) Option {
	return func(l *Limiter) {
		if nowFn != nil {
			l.nowFn = nowFn
		}
	}
}

// WithLocation fixes the timezone used for window boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) {
		if loc != nil {
			l.location = func() *time.Location { return loc }
		}
	}
}

// WithLocationProvider resolves the timezone on every call.
func WithLocationProvider(provider LocationProvider) Option {
	return func(l *Limiter) {
		if provider != nil {
			l.location = provider
		}
	}
}

// WithMetrics records decisions and store failures.
func WithMetrics(metrics *Metrics) Option {
	return func(l *Limiter) { l.metrics = metrics }
}

// Limiter enforces per-minute, per-hour and per-day limits of API keys.
type Limiter struct {
	store    CounterStore
	limits   LimitsSource
	nowFn    func() time.Time
	location LocationProvider
	metrics  *Metrics
}

// NewLimiter constructs a Limiter backed by store and limits.
func NewLimiter(store CounterStore, limits LimitsSource, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit: nil counter store")
	}
	if limits == nil {
		return nil, errors.New("rate limit: nil limits source")
	}
	l := &Limiter{
		store:    store,
		limits:   limits,
		nowFn:    time.Now,
		location: func() *time.Location { return time.Local },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check consumes one request from every window of the API key, stopping at the first
// window whose limit is already reached. Callers must invoke it exactly once per request.
func (l *Limiter) Check(ctx context.Context, apiKeyID, userID string) (Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	limits, errLimits := l.loadLimits(ctx, apiKeyID, userID)
	if errLimits != nil {
		return Decision{}, errLimits
	}
	now := l.nowFn()
	loc := l.location()

	var best Decision
	for i, window := range Windows {
		limit := limits.For(window)
		start := WindowStart(now, window, loc)
		reset := ResetTime(start, window)
		key := CounterKey{APIKeyID: apiKeyID, Window: window, Start: start}

		count, allowed, errConsume := l.store.Consume(ctx, key, limit, counterExpiry(start, window))
		if errConsume != nil {
			l.metrics.observeStoreError(window)
			return Decision{}, storeError(fmt.Sprintf("consume %s window", window), errConsume)
		}
		if !allowed {
			denied := Decision{Allowed: false, Remaining: 0, ResetTime: reset, LimitType: window, Limit: limit}
			l.metrics.observeDecision(denied)
			return denied, nil
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		if i == 0 || remaining < best.Remaining {
			best = Decision{Allowed: true, Remaining: remaining, ResetTime: reset, LimitType: window, Limit: limit}
		}
	}
	l.metrics.observeDecision(best)
	return best, nil
}

// Status reports current usage of every window without modifying any counter.
func (l *Limiter) Status(ctx context.Context, apiKeyID, userID string) (Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	limits, errLimits := l.loadLimits(ctx, apiKeyID, userID)
	if errLimits != nil {
		return Status{}, errLimits
	}
	now := l.nowFn()
	loc := l.location()

	statuses := make(map[Window]WindowStatus, len(Windows))
	for _, window := range Windows {
		limit := limits.For(window)
		start := WindowStart(now, window, loc)
		used, errGet := l.store.Get(ctx, CounterKey{APIKeyID: apiKeyID, Window: window, Start: start})
		if errGet != nil {
			l.metrics.observeStoreError(window)
			return Status{}, storeError(fmt.Sprintf("read %s window", window), errGet)
		}
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		statuses[window] = WindowStatus{
			Window:    window,
			Limit:     limit,
			Used:      used,
			Remaining: remaining,
			ResetTime: ResetTime(start, window),
		}
	}
	return Status{
		Minute: statuses[WindowMinute],
		Hour:   statuses[WindowHour],
		Day:    statuses[WindowDay],
	}, nil
}

// Initialize seeds zero counters for the current windows of a newly configured key.
func (l *Limiter) Initialize(ctx context.Context, apiKeyID, userID string, limits Limits) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(apiKeyID) == "" || strings.TrimSpace(userID) == "" {
		return ErrConfigNotFound
	}
	if errValidate := limits.Validate(); errValidate != nil {
		return errValidate
	}
	now := l.nowFn()
	loc := l.location()
	for _, window := range Windows {
		start := WindowStart(now, window, loc)
		key := CounterKey{APIKeyID: apiKeyID, Window: window, Start: start}
		if errInit := l.store.Init(ctx, key, counterExpiry(start, window)); errInit != nil {
			l.metrics.observeStoreError(window)
			return storeError(fmt.Sprintf("init %s window", window), errInit)
		}
	}
	return nil
}

func (l *Limiter) loadLimits(ctx context.Context, apiKeyID, userID string) (Limits, error) {
	if strings.TrimSpace(apiKeyID) == "" || strings.TrimSpace(userID) == "" {
		return Limits{}, ErrConfigNotFound
	}
	limits, errLoad := l.limits.Limits(ctx, apiKeyID, userID)
	if errLoad != nil {
		return Limits{}, errLoad
	}
	if errValidate := limits.Validate(); errValidate != nil {
		return Limits{}, errValidate
	}
	return limits, nil
}
