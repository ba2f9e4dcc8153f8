// Package providertest holds a conformance suite every provider.Provider must pass.
package providertest

import (
	"bytes"
	"context"
	"sort"
	"testing"

	pr "github.com/unkn0wn-root/fetchcache/provider"
)

// Run exercises get/set/del/keys semantics against a fresh provider per subtest.
func Run(t *testing.T, newProvider func(t *testing.T) pr.Provider) {
	t.Helper()
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		p := newProvider(t)
		if v, ok, err := p.Get(ctx, "nope"); err != nil || ok || v != nil {
			t.Fatalf("Get miss: v=%q ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("set_get_overwrite", func(t *testing.T) {
		p := newProvider(t)
		if err := p.Set(ctx, "k", []byte("v1"), 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := p.Set(ctx, "k", []byte("v2"), 0); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		v, ok, err := p.Get(ctx, "k")
		if err != nil || !ok || !bytes.Equal(v, []byte("v2")) {
			t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("binary_transparent", func(t *testing.T) {
		p := newProvider(t)
		in := []byte{0, 1, 2, 0xFF, 'C', 'A', 'S', 'C', 0}
		if err := p.Set(ctx, "bin", in, 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := p.Get(ctx, "bin")
		if err != nil || !ok || !bytes.Equal(v, in) {
			t.Fatalf("Get: v=%x ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("del_idempotent", func(t *testing.T) {
		p := newProvider(t)
		_ = p.Set(ctx, "k", []byte("v"), 0)
		if err := p.Del(ctx, "k"); err != nil {
			t.Fatalf("Del: %v", err)
		}
		if err := p.Del(ctx, "k"); err != nil {
			t.Fatalf("Del again: %v", err)
		}
		if _, ok, _ := p.Get(ctx, "k"); ok {
			t.Fatalf("key should be gone")
		}
	})

	t.Run("keys_by_prefix", func(t *testing.T) {
		p := newProvider(t)
		for _, k := range []string{"entry:ns:a", "entry:ns:b", "lock:ns:a", "entry:ns_x:c", "entry:nsa"} {
			if err := p.Set(ctx, k, []byte("v"), 0); err != nil {
				t.Fatalf("Set %s: %v", k, err)
			}
		}
		got, err := p.Keys(ctx, "entry:ns:")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		sort.Strings(got)
		want := []string{"entry:ns:a", "entry:ns:b"}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("Keys(entry:ns:) = %v, want %v", got, want)
		}

		all, err := p.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys all: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("Keys(\"\") = %v, want 5 keys", all)
		}
	})
}
