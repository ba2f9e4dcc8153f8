package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSelect(t *testing.T) {
	cases := []struct {
		name    string
		in      Config
		want    Plan
		wantErr error
	}{
		{"empty is none", Config{}, Plan{Strategy: None}, nil},
		{"empty with identity is delegated", Config{Identity: "app-1"}, Plan{Strategy: Delegated, Identity: "app-1"}, nil},
		{"aad alias", Config{Type: "aad", Identity: "app-1"}, Plan{Strategy: Delegated, Identity: "app-1"}, nil},
		{"delegated without identity", Config{Type: "delegated"}, Plan{}, ErrMissingIdentity},
		{"anonymous alias", Config{Type: "anonymous", BearerToken: "ignored"}, Plan{Strategy: None}, nil},
		{"api key", Config{Type: "apiKey", APIKeyHeader: "X-Api-Key", APIKeyValue: "s3cr3t"},
			Plan{Strategy: APIKey, Headers: map[string]string{"X-Api-Key": "s3cr3t"}}, nil},
		{"api key missing value", Config{Type: "apikey", APIKeyHeader: "X-Api-Key"}, Plan{}, ErrMissingAPIKey},
		{"bearer", Config{Type: "bearer", BearerToken: "tok"},
			Plan{Strategy: Bearer, Headers: map[string]string{"Authorization": "Bearer tok"}}, nil},
		{"bearer missing token", Config{Type: "bearer"}, Plan{}, ErrMissingToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Select(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := Select(Config{Type: "kerberos"}); err == nil {
		t.Fatalf("unknown strategy must fail")
	}
}

func TestPlanApplyOverridesHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://x/", nil)
	req.Header.Set("Authorization", "Basic old")
	Plan{Headers: map[string]string{"Authorization": "Bearer new"}}.Apply(req)
	if got := req.Header.Get("Authorization"); got != "Bearer new" {
		t.Fatalf("Authorization = %q", got)
	}
}

type countingProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (p *countingProvider) Client(_ context.Context, identity string) (Doer, error) {
	p.calls.Add(1)
	if p.fail.Load() {
		return nil, fmt.Errorf("no consent for %s", identity)
	}
	return &http.Client{}, nil
}

func TestClientCacheReusesPerIdentity(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	cc := NewClientCache(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cc.Client(ctx, "app-1"); err != nil {
				t.Errorf("Client: %v", err)
			}
		}()
	}
	wg.Wait()
	a1, _ := cc.Client(ctx, "app-1")
	a2, _ := cc.Client(ctx, "app-1")
	if a1 != a2 {
		t.Fatalf("same identity must reuse its client")
	}
	if _, err := cc.Client(ctx, "app-2"); err != nil {
		t.Fatalf("Client app-2: %v", err)
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
	if cc.Len() != 2 {
		t.Fatalf("Len = %d", cc.Len())
	}

	cc.Forget("app-1")
	_, _ = cc.Client(ctx, "app-1")
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("provider calls after Forget = %d, want 3", got)
	}
}

func TestClientCacheDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	p.fail.Store(true)
	cc := NewClientCache(p)
	if _, err := cc.Client(ctx, "app"); err == nil {
		t.Fatalf("expected error")
	}
	p.fail.Store(false)
	if _, err := cc.Client(ctx, "app"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if _, err := cc.Client(ctx, ""); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("empty identity: %v", err)
	}
}

func TestClientsFor(t *testing.T) {
	ctx := context.Background()
	def := &http.Client{}
	c := Clients{Default: def}
	d, err := c.For(ctx, Plan{Strategy: Bearer})
	if err != nil || d != def {
		t.Fatalf("non-delegated plans use the default client: %v %v", d, err)
	}
	if _, err := c.For(ctx, Plan{Strategy: Delegated, Identity: "x"}); !errors.Is(err, ErrNoIdentities) {
		t.Fatalf("want ErrNoIdentities, got %v", err)
	}
	if d, _ := (Clients{}).For(ctx, Plan{Strategy: None}); d != http.DefaultClient {
		t.Fatalf("nil default should fall back to http.DefaultClient")
	}
}

func TestOAuth2ProviderClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("resource") != "api://orders" {
			t.Errorf("token form = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	p := NewOAuth2Provider(map[string]OAuth2Identity{
		"orders": {
			ClientID:     "cid",
			ClientSecret: "secret",
			TokenURL:     tokenSrv.URL,
			Params:       map[string]string{"resource": "api://orders"},
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	client, err := p.Client(ctx, "orders")
	cancel() // acquisition ctx ending must not break the client
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, api.URL, nil)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("token requests = %d, want 1", got)
	}

	if _, err := p.Client(context.Background(), "missing"); err == nil {
		t.Fatalf("unknown identity must fail")
	}
}

func TestClientCacheDoerAcquiresLazily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &countingProvider{}
	cc := NewClientCache(p)
	d := cc.Doer("app")
	if got := p.calls.Load(); got != 0 {
		t.Fatalf("Doer must not acquire eagerly, calls = %d", got)
	}
	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := d.Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if got := p.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}

	p.fail.Store(true)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := cc.Doer("other").Do(req); err == nil {
		t.Fatalf("expected acquisition error")
	}
}
