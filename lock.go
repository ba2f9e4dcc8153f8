package fetchcache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/fetchcache/internal/wire"
	pr "github.com/unkn0wn-root/fetchcache/provider"
)

// DistributedLock is an advisory per-key lock shared across instances.
// It never reports errors: a failed store read means "not locked", a failed
// write means "not acquired".
type DistributedLock interface {
	// TryAcquire takes the lock unless an unexpired lock exists.
	TryAcquire(ctx context.Context, key string) bool
	// Release removes the lock. Releasing a missing lock is a no-op.
	Release(ctx context.Context, key string)
	// IsLocked reports whether an unexpired lock exists.
	IsLocked(ctx context.Context, key string) bool
	// WaitForRelease polls IsLocked until it is false or maxWait elapses.
	WaitForRelease(ctx context.Context, key string, maxWait, poll time.Duration) bool
}

// LockClearer is implemented by locks that can drop every record they own.
type LockClearer interface {
	ClearLocks(ctx context.Context) error
}

// LockOptions configure a StoreLock.
type LockOptions struct {
	Namespace string
	Expiry    time.Duration // <= 0 => 10s
	Owner     string        // "" => random uuid
	Clock     Clock
	Logger    Logger
	Hooks     Hooks
}

// StoreLock keeps lock records next to the cache entries in a Provider.
// Read and write are not atomic, so two instances can both acquire the same
// key in a narrow race window. Records carry an owner so an instance never
// releases a lock another instance took after its own record expired.
type StoreLock struct {
	ns     string
	owner  string
	store  pr.Provider
	expiry time.Duration
	clock  Clock
	log    Logger
	hooks  Hooks
}

var (
	_ DistributedLock = (*StoreLock)(nil)
	_ LockClearer     = (*StoreLock)(nil)
)

func NewStoreLock(store pr.Provider, opts LockOptions) *StoreLock {
	return &StoreLock{
		ns:     opts.Namespace,
		owner:  coalesce(opts.Owner, uuid.NewString()),
		store:  store,
		expiry: positive(opts.Expiry, DefaultLockExpiry),
		clock:  coalesce[Clock](opts.Clock, SystemClock),
		log:    OrNop(opts.Logger),
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
}

func (s *StoreLock) Owner() string { return s.owner }

func (s *StoreLock) TryAcquire(ctx context.Context, key string) bool {
	k := lockKey(s.ns, key)
	if rec, ok := s.read(ctx, k); ok && s.live(rec) {
		return false
	}
	now := s.clock.Now()
	b, err := wire.EncodeLock(wire.Lock{
		Owner:      s.owner,
		Key:        key,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.expiry),
	})
	if err != nil {
		s.log.Warn("lock record not encodable", Fields{"key": k, "err": err})
		return false
	}
	if err := s.store.Set(ctx, k, b, s.expiry); err != nil {
		s.storeError("set", k, err)
		return false
	}
	return true
}

func (s *StoreLock) Release(ctx context.Context, key string) {
	k := lockKey(s.ns, key)
	raw, ok, err := s.store.Get(ctx, k)
	if err != nil {
		s.storeError("get", k, err)
		return
	}
	if !ok {
		return
	}
	if rec, err := wire.DecodeLock(raw); err == nil && rec.Owner != s.owner && s.live(rec) {
		s.log.Debug("lock held by another owner; not releasing", Fields{"key": k, "owner": rec.Owner})
		return
	}
	if err := s.store.Del(ctx, k); err != nil {
		s.storeError("del", k, err)
	}
}

func (s *StoreLock) IsLocked(ctx context.Context, key string) bool {
	k := lockKey(s.ns, key)
	rec, ok := s.read(ctx, k)
	if !ok {
		return false
	}
	if !s.live(rec) {
		s.evict(ctx, k, "expired")
		return false
	}
	return true
}

func (s *StoreLock) WaitForRelease(ctx context.Context, key string, maxWait, poll time.Duration) bool {
	return WaitUntilReleased(ctx, s.clock, s, key, maxWait, poll)
}

// ClearLocks removes every lock record in the namespace, whoever owns it.
func (s *StoreLock) ClearLocks(ctx context.Context) error {
	return clearKeys(ctx, s.store, lockPrefix(s.ns), s.storeError)
}

// read returns the decoded record. Corrupt records are evicted and read as absent.
func (s *StoreLock) read(ctx context.Context, k string) (wire.Lock, bool) {
	raw, ok, err := s.store.Get(ctx, k)
	if err != nil {
		s.storeError("get", k, err)
		return wire.Lock{}, false
	}
	if !ok {
		return wire.Lock{}, false
	}
	rec, err := wire.DecodeLock(raw)
	if err != nil {
		s.evict(ctx, k, "corrupt")
		return wire.Lock{}, false
	}
	return rec, true
}

// live: a lock is expired from the instant now reaches ExpiresAt.
func (s *StoreLock) live(rec wire.Lock) bool {
	return s.clock.Now().Before(rec.ExpiresAt)
}

func (s *StoreLock) evict(ctx context.Context, k, reason string) {
	if err := s.store.Del(ctx, k); err != nil {
		s.storeError("del", k, err)
		return
	}
	s.hooks.LockEvicted(k, reason)
}

func (s *StoreLock) storeError(op, k string, err error) {
	s.log.Warn("lock store "+op+" failed", Fields{"key": k, "err": err})
	s.hooks.StoreError(op, k, err)
}

// LockProbe is the part of a lock WaitUntilReleased needs.
type LockProbe interface {
	IsLocked(ctx context.Context, key string) bool
}

// WaitUntilReleased polls l every poll interval until key is unlocked,
// maxWait elapses, or ctx is done. It reports whether the lock cleared.
// The lock is checked at least once.
func WaitUntilReleased(ctx context.Context, clk Clock, l LockProbe, key string, maxWait, poll time.Duration) bool {
	poll = positive(poll, DefaultLockPoll)
	start := clk.Now()
	for {
		if !l.IsLocked(ctx, key) {
			return true
		}
		if clk.Now().Sub(start) >= maxWait {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-clk.After(poll):
		}
	}
}
