package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/fetchcache/datasource/list"
	"github.com/unkn0wn-root/fetchcache/internal/app"
	"github.com/unkn0wn-root/fetchcache/internal/config"
	"github.com/unkn0wn-root/fetchcache/submit"
)

type fakeList struct{}

func (fakeList) Items(context.Context, list.Query) ([]map[string]any, error) {
	return []map[string]any{{"Id": float64(1)}}, nil
}

func (fakeList) AddItem(_ context.Context, _, _ string, fields map[string]any) (map[string]any, error) {
	return map[string]any{"Id": float64(9), "Title": fields["Title"]}, nil
}

func (fakeList) CurrentUser(context.Context, string) (map[string]any, error) {
	return map[string]any{"Id": float64(3), "Email": "a@b.com", "Title": "Ada"}, nil
}

type fixture struct {
	api      *httptest.Server
	upstream *httptest.Server
	hits     *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hits := &atomic.Int32{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.List.Site = "https://contoso/sites/hr"
	cfg.Submit = []submit.Endpoint{{Key: "feedback", Type: "list", Site: cfg.List.Site, List: "FB"}}
	a, err := app.New(cfg, app.Options{ListStore: fakeList{}})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	api := httptest.NewServer(New(a))
	t.Cleanup(api.Close)
	return &fixture{api: api, upstream: upstream, hits: hits}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.api.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestFetchAndClearCache(t *testing.T) {
	f := newFixture(t)
	body := `{"sources":[
		{"key":"a","kind":"http","http":{"url":"` + f.upstream.URL + `/x/{{id}}"}},
		{"key":"b","kind":"http","http":{"url":"` + f.upstream.URL + `/fail"}}
	],"context":{"id":5}}`

	resp, raw := f.do(t, http.MethodPost, "/fetch", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
	}
	var agg map[string]map[string]any
	if err := json.Unmarshal(raw, &agg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if agg["a"]["data"].(map[string]any)["ok"] != true || agg["a"]["fromCache"] != false {
		t.Fatalf("a = %v", agg["a"])
	}
	if agg["b"]["status"] != float64(500) || !strings.Contains(agg["b"]["error"].(string), "boom") {
		t.Fatalf("b = %v", agg["b"])
	}

	_, raw = f.do(t, http.MethodPost, "/fetch", body)
	_ = json.Unmarshal(raw, &agg)
	if agg["a"]["fromCache"] != true {
		t.Fatalf("second fetch should hit the cache: %v", agg["a"])
	}
	if got := f.hits.Load(); got != 3 {
		t.Fatalf("upstream hits = %d, want 3 (failures are not cached)", got)
	}

	resp, _ = f.do(t, http.MethodDelete, "/cache?prefix=http_", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/cache/locks", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear locks status = %d", resp.StatusCode)
	}
	_, raw = f.do(t, http.MethodPost, "/fetch", body)
	_ = json.Unmarshal(raw, &agg)
	if agg["a"]["fromCache"] != false {
		t.Fatalf("fetch after clear should miss: %v", agg["a"])
	}
}

func TestFetchRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{`, `{}`, `{"sources":[]}`} {
		resp, raw := f.do(t, http.MethodPost, "/fetch", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d (%s)", body, resp.StatusCode, raw)
		}
	}
}

func TestFetchRefusesServerCredentials(t *testing.T) {
	f := newFixture(t)
	var leaked atomic.Int32
	attacker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			leaked.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(attacker.Close)

	cases := []struct {
		name string
		src  string
	}{
		{"delegated", `{"key":"a","kind":"http","http":{"url":"` + attacker.URL + `","auth":{"type":"delegated","identity":"graph"}}}`},
		{"implicit delegated", `{"key":"a","kind":"http","http":{"url":"` + attacker.URL + `","auth":{"identity":"graph"}}}`},
		{"foreign list site", `{"key":"l","kind":"list","list":{"site":"` + attacker.URL + `","list":"L","view":"V"}}`},
		{"tokenized list site", `{"key":"l","kind":"list","list":{"site":"{{site}}","list":"L","view":"V"}}`},
	}
	for _, tc := range cases {
		for _, path := range []string{"/fetch", "/preload"} {
			resp, raw := f.do(t, http.MethodPost, path, `{"sources":[`+tc.src+`],"context":{"site":"`+attacker.URL+`"}}`)
			if resp.StatusCode != http.StatusForbidden {
				t.Fatalf("%s %s: status = %d (%s)", tc.name, path, resp.StatusCode, raw)
			}
		}
	}
	if got := leaked.Load(); got != 0 {
		t.Fatalf("credentials sent to a client-chosen host %d times", got)
	}

	ok := `{"sources":[{"key":"l","kind":"list","list":{"site":"https://contoso/sites/hr/","list":"L","view":"V"}}]}`
	if resp, raw := f.do(t, http.MethodPost, "/fetch", ok); resp.StatusCode != http.StatusOK {
		t.Fatalf("configured list site: status = %d (%s)", resp.StatusCode, raw)
	}
}

func TestPreload(t *testing.T) {
	f := newFixture(t)
	ok := `{"sources":[{"key":"a","kind":"http","http":{"url":"` + f.upstream.URL + `/x"}}]}`
	if resp, raw := f.do(t, http.MethodPost, "/preload", ok); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preload status = %d (%s)", resp.StatusCode, raw)
	}
	bad := `{"sources":[{"key":"b","kind":"http","http":{"url":"` + f.upstream.URL + `/fail"}}]}`
	if resp, _ := f.do(t, http.MethodPost, "/preload", bad); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("failing preload status = %d", resp.StatusCode)
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	resp, raw := f.do(t, http.MethodPost, "/submit/feedback", `{"Title":"hi"}`)
	var res submit.Result
	_ = json.Unmarshal(raw, &res)
	if resp.StatusCode != http.StatusOK || !res.Success {
		t.Fatalf("submit: status=%d res=%+v", resp.StatusCode, res)
	}

	resp, raw = f.do(t, http.MethodPost, "/submit/nope", `{}`)
	res = submit.Result{}
	_ = json.Unmarshal(raw, &res)
	if resp.StatusCode != http.StatusNotFound || res.Error != "submit endpoint 'nope' not found. Available: feedback" {
		t.Fatalf("unknown: status=%d res=%+v", resp.StatusCode, res)
	}
}

func TestProfileAndRender(t *testing.T) {
	f := newFixture(t)

	resp, raw := f.do(t, http.MethodGet, "/profile", "")
	var p map[string]any
	_ = json.Unmarshal(raw, &p)
	if resp.StatusCode != http.StatusOK || p["email"] != "a@b.com" {
		t.Fatalf("profile: status=%d body=%s", resp.StatusCode, raw)
	}
	if resp, _ := f.do(t, http.MethodPost, "/profile/refresh", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}

	resp, raw = f.do(t, http.MethodGet, "/render", "")
	var rr struct {
		Context map[string]any `json:"context"`
	}
	_ = json.Unmarshal(raw, &rr)
	user, _ := rr.Context["user"].(map[string]any)
	if resp.StatusCode != http.StatusOK || user["displayName"] != "Ada" {
		t.Fatalf("render: status=%d body=%s", resp.StatusCode, raw)
	}
	if resp, _ := f.do(t, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
