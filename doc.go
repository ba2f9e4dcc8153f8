// Package fetchcache coordinates expensive data fetches through a shared
// key-value store: values are cached with a TTL and concurrent fetches of
// the same key are deduplicated by an advisory lock record in that store.
//
// Components:
//   - Provider: byte store shared by every instance (memory, SQLite, Redis,
//     BigCache, Ristretto).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - TTLCache[V]: timestamped entries, expired or corrupt ones are removed on read.
//   - DistributedLock: StoreLock keeps lock records in the Provider; the
//     lock/redislock package uses SET NX PX instead.
//   - Cache[V]: GetOrFetch over the two.
//
// Keys:
//
//	entry:<ns>:<key> - cached values
//	lock:<ns>:<key>  - lock records
//
// Fetch pattern:
//
//	v, cached, err := cache.GetOrFetch(ctx, key, func(ctx context.Context) (V, error) {
//		return loadFromBackend(ctx)
//	}, 0) // 0 => default TTL
//
// The lock is advisory. It narrows the window for duplicate fetches across
// instances but two instances can still fetch the same key when the lock wait
// runs out or the store drops a write.
package fetchcache
