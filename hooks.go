package fetchcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "expired", "value_decode"}
	SelfHeal(storageKey, reason string)

	// An expired or corrupt lock record was evicted by an observer.
	LockEvicted(lockKey, reason string)

	// GetOrFetch found the key locked and waited; cleared reports whether
	// the lock went away before the wait budget ran out.
	LockWait(key string, cleared bool, waited time.Duration)

	// fetchFn failed; nothing was cached.
	FetchFailed(key string, err error)

	// The store returned an error. op ∈ {"get", "set", "del", "keys"}.
	// The cache degraded to "absent"/"not locked".
	StoreError(op, storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)              {}
func (NopHooks) LockEvicted(string, string)           {}
func (NopHooks) LockWait(string, bool, time.Duration) {}
func (NopHooks) FetchFailed(string, error)            {}
func (NopHooks) StoreError(string, string, error)     {}
