// Package asynchook moves hook delivery off the cache's hot path.
// Events are queued to a worker pool and dropped when the queue is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := fetchcache.New[any](fetchcache.Options[any]{
//	    Namespace: "ds",
//	    Provider:  provider,
//	    Codec:     codec.JSON[any]{},
//	    Hooks:     hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/fetchcache"
)

type Hooks struct {
	inner   fetchcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ fetchcache.Hooks = (*Hooks)(nil)

func New(inner fetchcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue after Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)    { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) LockEvicted(k, r string) { h.try(func() { h.inner.LockEvicted(k, r) }) }
func (h *Hooks) FetchFailed(k string, err error) {
	h.try(func() { h.inner.FetchFailed(k, err) })
}
func (h *Hooks) LockWait(k string, cleared bool, waited time.Duration) {
	h.try(func() { h.inner.LockWait(k, cleared, waited) })
}
func (h *Hooks) StoreError(op, k string, err error) {
	h.try(func() { h.inner.StoreError(op, k, err) })
}
