package sqlite

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/fetchcache/provider"
	"github.com/unkn0wn-root/fetchcache/provider/providertest"
)

var dbSeq atomic.Int64

func setupProvider(t *testing.T) *Provider {
	t.Helper()
	dsn := fmt.Sprintf("file:fetchcache_%d?mode=memory&cache=shared", dbSeq.Add(1))
	p, err := Open(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestConformance(t *testing.T) {
	providertest.Run(t, func(t *testing.T) pr.Provider { return setupProvider(t) })
}

func TestKeysMatchesPrefixExactly(t *testing.T) {
	ctx := context.Background()
	p := setupProvider(t)
	for _, k := range []string{"a_b:1", "axb:2", "a%b:3"} {
		if err := p.Set(ctx, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	got, err := p.Keys(ctx, "a_b")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != 1 || got[0] != "a_b:1" {
		t.Fatalf("Keys(a_b) = %v, want [a_b:1]", got)
	}
}

func TestTTLHintAndSweep(t *testing.T) {
	ctx := context.Background()
	p := setupProvider(t)
	now := time.Unix(1_700_000_000, 0)
	p.nowFunc = func() time.Time { return now }

	if err := p.Set(ctx, "short", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := p.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(2 * time.Minute)

	n, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("Sweep removed %d rows, want 1", n)
	}
	if _, ok, _ := p.Get(ctx, "forever"); !ok {
		t.Fatalf("key without ttl must survive sweep")
	}
}

func TestNewRejectsNilDB(t *testing.T) {
	if _, err := New(nil); err != ErrNilDB {
		t.Fatalf("New(nil) err = %v, want ErrNilDB", err)
	}
}

func TestKeysIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	p := setupProvider(t)
	_ = p.Set(ctx, "entry:NS:a", []byte("v"), 0)
	_ = p.Set(ctx, "entry:ns:a", []byte("v"), 0)
	got, err := p.Keys(ctx, "entry:ns:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != 1 || got[0] != "entry:ns:a" {
		t.Fatalf("Keys = %v, want [entry:ns:a]", got)
	}
}
