package profile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/fetchcache/datasource/list"
	"github.com/unkn0wn-root/fetchcache/provider/memory"
)

type fakeStore struct {
	calls atomic.Int32
	user  map[string]any
	err   error
}

func (f *fakeStore) Items(context.Context, list.Query) ([]map[string]any, error) { return nil, nil }

func (f *fakeStore) AddItem(context.Context, string, string, map[string]any) (map[string]any, error) {
	return nil, nil
}

func (f *fakeStore) CurrentUser(_ context.Context, site string) (map[string]any, error) {
	f.calls.Add(1)
	if site != "https://contoso/sites/hr" {
		return nil, errors.New("unexpected site " + site)
	}
	return f.user, f.err
}

func newService(t *testing.T, store list.Store) *Service {
	t.Helper()
	p := memory.New()
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	s, err := New(Options{Store: store, Site: "https://contoso/sites/hr", Provider: p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCurrentIsCached(t *testing.T) {
	store := &fakeStore{user: map[string]any{
		"Id": float64(12), "LoginName": "i:0#.f|membership|a@b.com", "Email": "a@b.com", "Title": "Ada",
	}}
	s := newService(t, store)
	ctx := context.Background()

	got := s.Current(ctx)
	want := Profile{
		ID: 12, LoginName: "i:0#.f|membership|a@b.com", Email: "a@b.com", DisplayName: "Ada", Title: "Ada",
		Properties: store.user,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("profile mismatch (-want +got):\n%s", diff)
	}
	_ = s.Current(ctx)
	if n := store.calls.Load(); n != 1 {
		t.Fatalf("store calls = %d, want 1", n)
	}

	_ = s.Refresh(ctx)
	if n := store.calls.Load(); n != 2 {
		t.Fatalf("store calls after Refresh = %d, want 2", n)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_ = s.Current(ctx)
	if n := store.calls.Load(); n != 3 {
		t.Fatalf("store calls after Clear = %d, want 3", n)
	}
	if s.Current(ctx).Map()["email"] != "a@b.com" {
		t.Fatalf("Map should expose email")
	}
}

func TestCurrentFallsBackWithoutCaching(t *testing.T) {
	store := &fakeStore{err: errors.New("401")}
	s := newService(t, store)
	ctx := context.Background()

	if diff := cmp.Diff(Unknown(), s.Current(ctx)); diff != "" {
		t.Fatalf("fallback mismatch (-want +got):\n%s", diff)
	}
	store.err = nil
	store.user = map[string]any{"Id": float64(1), "Title": "Bob"}
	if got := s.Current(ctx); got.DisplayName != "Bob" {
		t.Fatalf("DisplayName = %q, want Bob after recovery", got.DisplayName)
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Options{Provider: memory.New()}); !errors.Is(err, ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}
