package list

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/token"
)

type fakeStore struct {
	got  Query
	rows []map[string]any
	err  error
}

func (f *fakeStore) Items(_ context.Context, q Query) ([]map[string]any, error) {
	f.got = q
	return f.rows, f.err
}

func (f *fakeStore) AddItem(context.Context, string, string, map[string]any) (map[string]any, error) {
	return nil, nil
}

func (f *fakeStore) CurrentUser(context.Context, string) (map[string]any, error) { return nil, nil }

func TestResolve(t *testing.T) {
	tc, err := token.NewContext(map[string]any{"site": "https://contoso/sites/hr"})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	b := New(&fakeStore{})
	req, err := b.Resolve(datasource.SourceConfig{
		Key:  "staff",
		Kind: datasource.KindList,
		List: &datasource.ListParams{Site: " {{site}}/ ", List: "AB-CD", View: "EF-01"},
	}, tc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := datasource.Request{Kind: datasource.KindList, Method: "VIEW", Site: "https://contoso/sites/hr", List: "ab-cd", View: "ef-01"}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMissingParams(t *testing.T) {
	b := New(&fakeStore{})
	tc, _ := token.NewContext(map[string]any{})
	cases := []datasource.SourceConfig{
		{Key: "a", Kind: datasource.KindList},
		{Key: "b", Kind: datasource.KindList, List: &datasource.ListParams{Site: "https://s", List: "l"}},
		{Key: "c", Kind: datasource.KindList, List: &datasource.ListParams{Site: "{{missing}}", List: "l", View: "v"}},
	}
	for _, cfg := range cases {
		if _, err := b.Resolve(cfg, tc); !errors.Is(err, datasource.ErrMissingList) {
			t.Fatalf("%s: err = %v, want ErrMissingList", cfg.Key, err)
		}
	}
}

func TestFetch(t *testing.T) {
	store := &fakeStore{rows: []map[string]any{{"Id": float64(1)}, {"Id": float64(2)}}}
	b := New(store)
	got, err := b.Fetch(context.Background(), datasource.Request{Site: "https://s", List: "l", View: "v"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []any{map[string]any{"Id": float64(1)}, map[string]any{"Id": float64(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if store.got != (Query{Site: "https://s", List: "l", View: "v"}) {
		t.Fatalf("query = %+v", store.got)
	}

	store.err = errors.New("list view not found")
	if _, err := b.Fetch(context.Background(), datasource.Request{}); err == nil || err.Error() != "list view not found" {
		t.Fatalf("Fetch err = %v", err)
	}
}
