// Package datasource fetches many configured sources in parallel through a
// shared fetchcache.Cache and returns their results keyed by source key.
//
// Sources are resolved against a token context first. The cache key is
// derived from the resolved request, not the source key, so two sources
// resolving to the same request share one cache entry and one fetch.
package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/token"
)

type Kind string

const (
	KindHTTP Kind = "http"
	KindList Kind = "list"
)

var (
	ErrMissingKey   = errors.New("datasource: source key is required")
	ErrDuplicateKey = errors.New("datasource: duplicate source key")
	ErrUnknownKind  = errors.New("datasource: no backend for source kind")
	ErrMissingURL   = errors.New("datasource: missing required URL")
	ErrMissingList  = errors.New("datasource: list source needs site, list and view")
	ErrBadMethod    = errors.New("datasource: unsupported HTTP method")
)

// ErrMissingIdentity is auth.ErrMissingIdentity, re-exported for callers
// that only import this package.
var ErrMissingIdentity = auth.ErrMissingIdentity

// Param is an ordered name/value pair. Value may contain tokens.
type Param struct {
	Name  string `yaml:"name" toml:"name" json:"name"`
	Value string `yaml:"value" toml:"value" json:"value"`
}

type HTTPParams struct {
	URL     string            `yaml:"url" toml:"url" json:"url"`
	Method  string            `yaml:"method" toml:"method" json:"method,omitempty"` // "" => GET
	Query   []Param           `yaml:"query" toml:"query" json:"query,omitempty"`
	Body    string            `yaml:"body" toml:"body" json:"body,omitempty"`
	Headers map[string]string `yaml:"headers" toml:"headers" json:"headers,omitempty"`
	Auth    auth.Config       `yaml:"auth" toml:"auth" json:"auth,omitempty"`
}

// ListParams identify a list view. All three may contain tokens.
type ListParams struct {
	Site string `yaml:"site" toml:"site" json:"site"`
	List string `yaml:"list" toml:"list" json:"list"`
	View string `yaml:"view" toml:"view" json:"view"`
}

// SourceConfig is one fetchable unit. Key names the result in the
// aggregate and must be unique within one call.
type SourceConfig struct {
	Key        string      `yaml:"key" toml:"key" json:"key"`
	Kind       Kind        `yaml:"kind" toml:"kind" json:"kind"`
	HTTP       *HTTPParams `yaml:"http,omitempty" toml:"http,omitempty" json:"http,omitempty"`
	List       *ListParams `yaml:"list,omitempty" toml:"list,omitempty" json:"list,omitempty"`
	TTLMinutes float64     `yaml:"ttl_minutes" toml:"ttl_minutes" json:"ttlMinutes,omitempty"` // 0 => orchestrator default
}

func (c SourceConfig) ttl() time.Duration {
	if c.TTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.TTLMinutes * float64(time.Minute))
}

// Request is a fully resolved source: no tokens left.
type Request struct {
	Kind    Kind
	Method  string
	URL     string
	Query   []Param
	Body    string
	Headers map[string]string
	Auth    auth.Plan

	Site string
	List string
	View string
}

// Signature identifies what the request fetches. Headers and auth are not
// part of it.
func (r Request) Signature() string {
	q := make([][2]string, len(r.Query))
	for i, p := range r.Query {
		q[i] = [2]string{p.Name, p.Value}
	}
	// a JSON array keeps field boundaries unambiguous
	b, _ := json.Marshal([]any{r.Kind, r.Method, r.URL, r.Site, r.List, r.View, q, r.Body})
	return string(b)
}

// Backend resolves and fetches one kind of source.
type Backend interface {
	Kind() Kind
	// Resolve substitutes tokens and validates configuration. Errors here
	// are configuration errors.
	Resolve(cfg SourceConfig, tc *token.Context) (Request, error)
	// Fetch performs the call. The returned value must survive a JSON
	// round trip, since cached results come back decoded.
	Fetch(ctx context.Context, req Request) (any, error)
}

// StatusError is a non-success response from a backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body) }

// Result is one source's outcome. Data is nil when Err is set.
type Result struct {
	Data      any
	Err       error
	FromCache bool
	CacheKey  string
}

// Status returns the HTTP status of a StatusError, or 0.
func (r Result) Status() int {
	var se *StatusError
	if errors.As(r.Err, &se) {
		return se.Status
	}
	return 0
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Data      any    `json:"data"`
		Error     string `json:"error,omitempty"`
		Status    int    `json:"status,omitempty"`
		FromCache bool   `json:"fromCache"`
	}{Data: r.Data, FromCache: r.FromCache, Status: r.Status()}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Aggregate maps source key to result.
type Aggregate map[string]Result

// Err joins every per-source error, or returns nil.
func (a Aggregate) Err() error {
	keys := make([]string, 0, len(a))
	for k, r := range a {
		if r.Err != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var errs []error
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", k, a[k].Err))
	}
	return errors.Join(errs...)
}
