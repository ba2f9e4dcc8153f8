package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/fetchcache"
)

type countHooks struct {
	fetchcache.NopHooks
	mu    sync.Mutex
	heals int
	block chan struct{}
}

func (c *countHooks) SelfHeal(string, string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.heals++
	c.mu.Unlock()
}

func TestAsyncDeliversBeforeClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.SelfHeal("k", "expired")
	}
	h.Close()
	if inner.heals != 10 {
		t.Fatalf("delivered %d, want 10", inner.heals)
	}
	h.SelfHeal("k", "expired") // after Close: dropped, no panic
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", h.Dropped())
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)
	for i := 0; i < 5; i++ {
		h.SelfHeal("k", "corrupt")
	}
	close(inner.block)
	h.Close()
	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
	if uint64(inner.heals)+h.Dropped() != 5 {
		t.Fatalf("delivered %d + dropped %d != 5", inner.heals, h.Dropped())
	}
}
