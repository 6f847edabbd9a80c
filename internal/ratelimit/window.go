package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Window names a fixed rate limit window granularity.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// counterGracePeriod keeps counters around after their window closes.
const counterGracePeriod = time.Hour

// Windows lists the windows from the tightest to the loosest; checks run in this order.
var Windows = []Window{WindowMinute, WindowHour, WindowDay}

// ParseWindow converts a window name into a Window.
func ParseWindow(raw string) (Window, error) {
	switch Window(strings.ToLower(strings.TrimSpace(raw))) {
	case WindowMinute:
		return WindowMinute, nil
	case WindowHour:
		return WindowHour, nil
	case WindowDay:
		return WindowDay, nil
	default:
		return "", fmt.Errorf("rate limit: unknown window %q", raw)
	}
}

// Duration returns the nominal length of the window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// WindowStart floors now to the window granularity on the wall clock of loc.
func WindowStart(now time.Time, window Window, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t := now.In(loc)
	switch window {
	case WindowMinute:
		return t.Add(-time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
	case WindowHour:
		return t.Add(-time.Duration(t.Minute())*time.Minute - time.Duration(t.Second())*time.Second - time.Duration(t.Nanosecond()))
	case WindowDay:
		year, month, day := t.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// ResetTime returns the start of the window following the one starting at start.
func ResetTime(start time.Time, window Window) time.Time {
	if window == WindowDay {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(window.Duration())
}

// counterExpiry returns when a counter of the given window instance may be dropped.
func counterExpiry(start time.Time, window Window) time.Time {
	return ResetTime(start, window).Add(counterGracePeriod)
}

// ParseLocation resolves a timezone setting; empty and "local" select time.Local.
func ParseLocation(raw string) (*time.Location, error) {
	name := strings.TrimSpace(raw)
	switch strings.ToLower(name) {
	case "", "local":
		return time.Local, nil
	case "utc":
		return time.UTC, nil
	}
	loc, errLoad := time.LoadLocation(name)
	if errLoad != nil {
		return nil, fmt.Errorf("rate limit: load timezone %q: %w", name, errLoad)
	}
	return loc, nil
}
