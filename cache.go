package fetchcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache combines a TTLCache with a DistributedLock to run each fetch once
// per key across goroutines and, best effort, across instances.
type Cache[V any] struct {
	entries  *TTLCache[V]
	lock     DistributedLock
	enabled  bool
	lockWait time.Duration
	lockPoll time.Duration
	clock    Clock
	log      Logger
	hooks    Hooks

	// collapses same-key calls inside this process before they reach the lock
	flight singleflight.Group
}

type flightResult[V any] struct {
	v      V
	cached bool
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	entries, err := NewTTLCache(opts)
	if err != nil {
		return nil, err
	}
	c := &Cache[V]{
		entries:  entries,
		enabled:  !opts.Disabled,
		lockWait: positive(opts.LockWait, DefaultLockWait),
		lockPoll: positive(opts.LockPoll, DefaultLockPoll),
		clock:    entries.clock,
		log:      entries.log,
		hooks:    entries.hooks,
	}
	if opts.Lock != nil {
		c.lock = opts.Lock
	} else {
		c.lock = NewStoreLock(opts.Provider, LockOptions{
			Namespace: opts.Namespace,
			Expiry:    opts.LockExpiry,
			Clock:     entries.clock,
			Logger:    entries.log,
			Hooks:     entries.hooks,
		})
	}
	return c, nil
}

func (c *Cache[V]) Enabled() bool             { return c.enabled }
func (c *Cache[V]) Entries() *TTLCache[V]     { return c.entries }
func (c *Cache[V]) Lock() DistributedLock     { return c.lock }
func (c *Cache[V]) DefaultTTL() time.Duration { return c.entries.defaultTTL }

// GetOrFetch returns the cached value for key, or runs fetch and caches its
// result for ttl (<= 0 => default TTL). cached reports whether the value came
// from the cache. A fetch error is returned as is and nothing is cached.
//
// Concurrent calls for the same key in one process share a single execution,
// including its result and error. A started execution runs detached from
// caller cancellation, so one caller giving up never fails the others.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (v V, cached bool, err error) {
	if fetch == nil {
		return v, false, ErrNilFetch
	}
	if !c.enabled {
		v, err = fetch(ctx)
		return v, false, err
	}
	shared := context.WithoutCancel(ctx)
	res, err, _ := c.flight.Do(key, func() (any, error) {
		v, cached, err := c.getOrFetch(shared, key, fetch, ttl)
		return flightResult[V]{v: v, cached: cached}, err
	})
	r := res.(flightResult[V])
	return r.v, r.cached, err
}

func (c *Cache[V]) getOrFetch(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (V, bool, error) {
	if v, ok := c.entries.Get(ctx, key); ok {
		return v, true, nil
	}

	if c.lock.IsLocked(ctx, key) {
		start := c.clock.Now()
		cleared := c.lock.WaitForRelease(ctx, key, c.lockWait, c.lockPoll)
		c.hooks.LockWait(key, cleared, c.clock.Now().Sub(start))
		if cleared {
			if v, ok := c.entries.Get(ctx, key); ok {
				return v, true, nil
			}
		} else {
			c.log.Debug("lock wait timed out; fetching anyway", Fields{"key": key})
		}
	}

	acquired := c.lock.TryAcquire(ctx, key)
	if acquired {
		// released even when fetch panics
		defer c.lock.Release(ctx, key)
	}

	// another instance may have stored the value between the wait and the acquire
	if v, ok := c.entries.Get(ctx, key); ok {
		return v, true, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		c.hooks.FetchFailed(key, err)
		var zero V
		return zero, false, err
	}
	if err := c.entries.Set(ctx, key, v, ttl); err != nil {
		c.log.Warn("caching fetched value failed", Fields{"key": key, "err": err})
	}
	return v, false, nil
}

// Refresh drops the cached value for key and fetches it again.
func (c *Cache[V]) Refresh(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (V, error) {
	if c.enabled {
		if err := c.entries.Remove(ctx, key); err != nil {
			c.log.Warn("refresh could not drop cached value", Fields{"key": key, "err": err})
		}
	}
	v, _, err := c.GetOrFetch(ctx, key, fetch, ttl)
	return v, err
}

// Prime stores value without fetching.
func (c *Cache[V]) Prime(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	return c.entries.Set(ctx, key, value, ttl)
}

func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	if !c.enabled {
		var zero V
		return zero, false
	}
	return c.entries.Get(ctx, key)
}

func (c *Cache[V]) Has(ctx context.Context, key string) bool {
	return c.enabled && c.entries.Has(ctx, key)
}

func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	return c.entries.Remove(ctx, key)
}

func (c *Cache[V]) ClearByPrefix(ctx context.Context, prefix string) error {
	return c.entries.ClearByPrefix(ctx, prefix)
}

func (c *Cache[V]) ClearAll(ctx context.Context) error {
	return c.entries.ClearAll(ctx)
}

// ClearLocks drops every lock record when the lock supports it.
func (c *Cache[V]) ClearLocks(ctx context.Context) error {
	lc, ok := c.lock.(LockClearer)
	if !ok {
		c.log.Debug("lock does not support clearing", Fields{"ns": c.entries.ns})
		return nil
	}
	return lc.ClearLocks(ctx)
}
