package fetchcache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/fetchcache/codec"
	pr "github.com/unkn0wn-root/fetchcache/provider"
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Options tune a Cache. Only Namespace, Provider and Codec are required.
type Options[V any] struct {
	// Required
	Namespace string // separates caches sharing one Provider. e.g. "ds", "profile"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger     Logger          // nil => NopLogger
	Hooks      Hooks           // nil => NopHooks
	Clock      Clock           // nil => SystemClock
	Lock       DistributedLock // nil => StoreLock over Provider
	DefaultTTL time.Duration   // <= 0 => 15m
	LockWait   time.Duration   // max time GetOrFetch waits on a held lock; <= 0 => 500ms
	LockPoll   time.Duration   // <= 0 => 50ms
	LockExpiry time.Duration   // StoreLock record lifetime; <= 0 => 10s
	Disabled   bool            // every GetOrFetch calls fetch; nothing is read or written
}

func (o Options[V]) validate() error {
	if o.Provider == nil {
		return fmt.Errorf("fetchcache: provider is required")
	}
	if o.Codec == nil {
		return fmt.Errorf("fetchcache: codec is required")
	}
	if o.Namespace == "" {
		return fmt.Errorf("fetchcache: namespace is required")
	}
	return nil
}

func entryKey(ns, key string) string { return "entry:" + ns + ":" + key }
func lockKey(ns, key string) string  { return "lock:" + ns + ":" + key }

func entryPrefix(ns string) string { return "entry:" + ns + ":" }
func lockPrefix(ns string) string  { return "lock:" + ns + ":" }
