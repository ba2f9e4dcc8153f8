package fetchcache

import "time"

const (
	DefaultTTL        = 15 * time.Minute
	DefaultLockWait   = 500 * time.Millisecond
	DefaultLockPoll   = 50 * time.Millisecond
	DefaultLockExpiry = 10 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// positive returns def unless d > 0.
func positive(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
