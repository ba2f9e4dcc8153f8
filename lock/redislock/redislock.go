// Package redislock is a fetchcache.DistributedLock on Redis SET NX PX.
// Unlike StoreLock the acquire is atomic, so two instances never both
// hold the same key.
package redislock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/fetchcache"
)

var ErrNilClient = errors.New("redislock: nil client")

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Lock struct {
	rdb    redis.UniversalClient
	ns     string
	token  string
	expiry time.Duration
	clock  fetchcache.Clock
	log    fetchcache.Logger
}

var (
	_ fetchcache.DistributedLock = (*Lock)(nil)
	_ fetchcache.LockClearer     = (*Lock)(nil)
)

type Options struct {
	Namespace string        // should match the cache namespace
	Expiry    time.Duration // <= 0 => 10s
	Clock     fetchcache.Clock
	Logger    fetchcache.Logger
}

func New(client redis.UniversalClient, opts Options) (*Lock, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	l := &Lock{
		rdb:    client,
		ns:     opts.Namespace,
		token:  uuid.NewString(),
		expiry: opts.Expiry,
		clock:  opts.Clock,
		log:    fetchcache.OrNop(opts.Logger),
	}
	if l.expiry <= 0 {
		l.expiry = fetchcache.DefaultLockExpiry
	}
	if l.clock == nil {
		l.clock = fetchcache.SystemClock
	}
	return l, nil
}

func (l *Lock) key(k string) string { return "lock:" + l.ns + ":" + k }

func (l *Lock) TryAcquire(ctx context.Context, key string) bool {
	ok, err := l.rdb.SetNX(ctx, l.key(key), l.token, l.expiry).Result()
	if err != nil {
		l.log.Warn("redis lock acquire failed", fetchcache.Fields{"key": key, "err": err})
		return false
	}
	return ok
}

func (l *Lock) Release(ctx context.Context, key string) {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key(key)}, l.token).Err(); err != nil && err != redis.Nil {
		l.log.Warn("redis lock release failed", fetchcache.Fields{"key": key, "err": err})
	}
}

func (l *Lock) IsLocked(ctx context.Context, key string) bool {
	n, err := l.rdb.Exists(ctx, l.key(key)).Result()
	if err != nil {
		l.log.Warn("redis lock probe failed", fetchcache.Fields{"key": key, "err": err})
		return false
	}
	return n > 0
}

func (l *Lock) WaitForRelease(ctx context.Context, key string, maxWait, poll time.Duration) bool {
	return fetchcache.WaitUntilReleased(ctx, l.clock, l, key, maxWait, poll)
}

// ClearLocks deletes every lock in the namespace via SCAN; holders lose their locks.
func (l *Lock) ClearLocks(ctx context.Context) error {
	prefix := "lock:" + l.ns + ":"
	iter := l.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := l.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return l.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
