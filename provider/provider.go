// Package provider defines the key-value store abstraction used by fetchcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// Stores offer no atomicity across calls. Every coordination primitive fetchcache
// builds (TTL entries, advisory locks) is composed from Get/Set/Del/Keys alone.
//
// Important: the keyspaces "entry:<ns>:" and "lock:<ns>:" are owned by fetchcache.
// External code MUST NOT write values under these prefixes. Foreign writes are
// treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value unconditionally (last writer wins).
	// ttl is a hint for stores with native expiry; ttl <= 0 means no expiry.
	// Stores without per-key expiry may ignore it.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Keys returns every stored key starting with prefix ("" => all keys).
	// Order is unspecified.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
