package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/datasource/list"
)

type fakeSite struct {
	baseType int
	expanded bool
	added    map[string]any
}

func (f *fakeSite) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != odataJSON {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		p := r.URL.Path
		switch {
		case strings.HasSuffix(p, "/currentuser"):
			_ = json.NewEncoder(w).Encode(map[string]any{"Title": "Ada", "Email": "ada@example.com"})
		case strings.Contains(p, "/views("):
			_ = json.NewEncoder(w).Encode(map[string]any{"ListViewXml": "<View><Query/></View>"})
		case strings.HasSuffix(p, "/GetItems"):
			f.expanded = r.URL.Query().Get("$expand") == "File"
			var body struct {
				Query struct {
					ViewXml string
				} `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Query.ViewXml != "<View><Query/></View>" {
				t.Errorf("ViewXml = %q", body.Query.ViewXml)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"value": []any{map[string]any{"Id": 1, "Title": "first"}}})
		case strings.HasSuffix(p, "/items") && r.Method == http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&f.added)
			out := map[string]any{"Id": 9}
			for k, v := range f.added {
				out[k] = v
			}
			_ = json.NewEncoder(w).Encode(out)
		case strings.Contains(p, "/lists("):
			if r.URL.Query().Get("$select") != "BaseType" {
				t.Errorf("unexpected list query %q", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"BaseType": f.baseType})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestItemsQueriesViewAndExpandsDocuments(t *testing.T) {
	for _, baseType := range []int{0, 1} {
		site := &fakeSite{baseType: baseType}
		srv := httptest.NewServer(site.handler(t))
		s, err := New(srv.Client())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		items, err := s.Items(context.Background(), list.Query{Site: srv.URL + "/sites/hr", List: "abc", View: "def"})
		srv.Close()
		if err != nil {
			t.Fatalf("Items: %v", err)
		}
		want := []map[string]any{{"Id": float64(1), "Title": "first"}}
		if diff := cmp.Diff(want, items); diff != "" {
			t.Fatalf("items (-want +got):\n%s", diff)
		}
		if site.expanded != (baseType == 1) {
			t.Fatalf("base type %d: expanded File = %v", baseType, site.expanded)
		}
	}
}

func TestAddItemAndCurrentUser(t *testing.T) {
	site := &fakeSite{}
	srv := httptest.NewServer(site.handler(t))
	defer srv.Close()
	s, _ := New(srv.Client())
	ctx := context.Background()

	created, err := s.AddItem(ctx, srv.URL, "abc", map[string]any{"Title": "hello"})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if created["Id"] != float64(9) || site.added["Title"] != "hello" {
		t.Fatalf("created=%v added=%v", created, site.added)
	}

	u, err := s.CurrentUser(ctx, srv.URL)
	if err != nil || u["Email"] != "ada@example.com" {
		t.Fatalf("CurrentUser: %v %v", u, err)
	}
}

func TestStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "access denied", http.StatusUnauthorized)
	}))
	defer srv.Close()
	s, _ := New(srv.Client())
	_, err := s.Items(context.Background(), list.Query{Site: srv.URL, List: "a", View: "b"})
	var se *datasource.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		t.Fatalf("want 401 StatusError, got %v", err)
	}
	if _, err := New(nil); !errors.Is(err, ErrNilClient) {
		t.Fatalf("New(nil) = %v", err)
	}
}
