package fetchcache

import (
	"context"
	"errors"
	"strings"
	"time"

	c "github.com/unkn0wn-root/fetchcache/codec"
	"github.com/unkn0wn-root/fetchcache/internal/wire"
	pr "github.com/unkn0wn-root/fetchcache/provider"
)

// Entry is a decoded cache record.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TTLCache stores values with an absolute expiry in a shared Provider.
// Reads never fail: store errors, corrupt records and expired entries are
// all reported as a miss, and the bad record is deleted.
type TTLCache[V any] struct {
	ns         string
	store      pr.Provider
	codec      c.Codec[V]
	clock      Clock
	log        Logger
	hooks      Hooks
	defaultTTL time.Duration
}

// NewTTLCache builds the entry layer only. Lock settings in opts are ignored.
func NewTTLCache[V any](opts Options[V]) (*TTLCache[V], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &TTLCache[V]{
		ns:         opts.Namespace,
		store:      opts.Provider,
		codec:      opts.Codec,
		clock:      coalesce[Clock](opts.Clock, SystemClock),
		log:        OrNop(opts.Logger),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		defaultTTL: positive(opts.DefaultTTL, DefaultTTL),
	}, nil
}

func (t *TTLCache[V]) Namespace() string         { return t.ns }
func (t *TTLCache[V]) DefaultTTL() time.Duration { return t.defaultTTL }

func (t *TTLCache[V]) Get(ctx context.Context, key string) (V, bool) {
	e, ok := t.Entry(ctx, key)
	return e.Value, ok
}

// Entry is Get with the record's timestamps.
func (t *TTLCache[V]) Entry(ctx context.Context, key string) (Entry[V], bool) {
	k := entryKey(t.ns, key)
	raw, ok, err := t.store.Get(ctx, k)
	if err != nil {
		t.storeError("get", k, err)
		return Entry[V]{}, false
	}
	if !ok {
		return Entry[V]{}, false
	}
	rec, err := wire.DecodeEntry(raw)
	if err != nil {
		t.heal(ctx, k, "corrupt")
		return Entry[V]{}, false
	}
	// an entry is still valid at exactly ExpiresAt
	if t.clock.Now().After(rec.ExpiresAt) {
		t.heal(ctx, k, "expired")
		return Entry[V]{}, false
	}
	v, err := t.codec.Decode(rec.Payload)
	if err != nil {
		t.log.Debug("cached value does not decode", Fields{"key": k, "err": err})
		t.heal(ctx, k, "value_decode")
		return Entry[V]{}, false
	}
	return Entry[V]{Value: v, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, true
}

// Set overwrites key. ttl <= 0 uses the default TTL.
func (t *TTLCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	ttl = positive(ttl, t.defaultTTL)
	payload, err := t.codec.Encode(value)
	if err != nil {
		return err
	}
	now := t.clock.Now()
	k := entryKey(t.ns, key)
	b := wire.EncodeEntry(wire.Entry{CreatedAt: now, ExpiresAt: now.Add(ttl), Payload: payload})
	// the store ttl is a hint for eviction; expiry is decided on read
	if err := t.store.Set(ctx, k, b, ttl); err != nil {
		t.storeError("set", k, err)
		return err
	}
	return nil
}

func (t *TTLCache[V]) Remove(ctx context.Context, key string) error {
	k := entryKey(t.ns, key)
	if err := t.store.Del(ctx, k); err != nil {
		t.storeError("del", k, err)
		return err
	}
	return nil
}

func (t *TTLCache[V]) Has(ctx context.Context, key string) bool {
	_, ok := t.Entry(ctx, key)
	return ok
}

// ClearByPrefix removes every entry whose cache key starts with prefix.
// Entries that cannot be deleted are reported in a *ClearError; the rest
// are still removed.
func (t *TTLCache[V]) ClearByPrefix(ctx context.Context, prefix string) error {
	return clearKeys(ctx, t.store, entryPrefix(t.ns)+prefix, t.storeError)
}

func (t *TTLCache[V]) ClearAll(ctx context.Context) error {
	return t.ClearByPrefix(ctx, "")
}

func (t *TTLCache[V]) heal(ctx context.Context, k, reason string) {
	if err := t.store.Del(ctx, k); err != nil {
		t.storeError("del", k, err)
	}
	t.hooks.SelfHeal(k, reason)
}

func (t *TTLCache[V]) storeError(op, k string, err error) {
	t.log.Warn("store "+op+" failed", Fields{"key": k, "err": err})
	t.hooks.StoreError(op, k, err)
}

func clearKeys(ctx context.Context, store pr.Provider, prefix string, report func(op, k string, err error)) error {
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		report("keys", prefix, err)
		return &ClearError{Prefix: prefix, Errs: []error{err}}
	}
	var ce *ClearError
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := store.Del(ctx, k); err != nil {
			report("del", k, err)
			if ce == nil {
				ce = &ClearError{Prefix: prefix}
			}
			ce.Keys = append(ce.Keys, k)
			ce.Errs = append(ce.Errs, err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
		}
	}
	if ce != nil {
		return ce
	}
	return nil
}
