package memory

import (
	"context"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/fetchcache/provider"
	"github.com/unkn0wn-root/fetchcache/provider/providertest"
)

func TestConformance(t *testing.T) {
	providertest.Run(t, func(t *testing.T) pr.Provider { return New() })
}

func TestTTLHintExpiresLazily(t *testing.T) {
	ctx := context.Background()
	p := New()
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	if err := p.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(time.Second)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit at exactly the ttl boundary")
	}
	now = now.Add(time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after ttl")
	}
	if p.Len() != 0 {
		t.Fatalf("expired key should have been removed, len=%d", p.Len())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	p := New()
	_ = p.Set(ctx, "k", []byte("abc"), 0)
	v, _, _ := p.Get(ctx, "k")
	v[0] = 'X'
	again, _, _ := p.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}
