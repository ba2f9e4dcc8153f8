package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/internal/util"
	"github.com/unkn0wn-root/fetchcache/token"
)

type Options struct {
	// Cache is required unless Disabled is set.
	Cache    *fetchcache.Cache[any]
	Backends []Backend
	// Disabled sends every source straight to its backend.
	Disabled bool
	// DefaultTTL applies to sources without their own TTL; <= 0 => the cache default.
	DefaultTTL time.Duration
	Logger     fetchcache.Logger
}

type Orchestrator struct {
	cache      *fetchcache.Cache[any]
	backends   map[Kind]Backend
	enabled    bool
	defaultTTL time.Duration
	log        fetchcache.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil && !opts.Disabled {
		return nil, errors.New("datasource: cache is required when caching is enabled")
	}
	o := &Orchestrator{
		cache:      opts.Cache,
		backends:   make(map[Kind]Backend, len(opts.Backends)),
		enabled:    !opts.Disabled && opts.Cache != nil && opts.Cache.Enabled(),
		defaultTTL: opts.DefaultTTL,
		log:        fetchcache.OrNop(opts.Logger),
	}
	for _, b := range opts.Backends {
		if b == nil {
			continue
		}
		if _, dup := o.backends[b.Kind()]; dup {
			return nil, fmt.Errorf("datasource: two backends for kind %q", b.Kind())
		}
		o.backends[b.Kind()] = b
	}
	return o, nil
}

func (o *Orchestrator) CachingEnabled() bool { return o.enabled }

// FetchMany fetches every config concurrently and waits for all of them.
// It never fails as a whole: each source's error lands in its own Result.
// A key used by more than one config yields ErrDuplicateKey for that key
// and none of its configs are fetched.
func (o *Orchestrator) FetchMany(ctx context.Context, configs []SourceConfig, tc *token.Context) Aggregate {
	out := make(Aggregate, len(configs))

	count := make(map[string]int, len(configs))
	for _, cfg := range configs {
		count[cfg.Key]++
	}

	results := make([]Result, len(configs))
	var g errgroup.Group
	for i, cfg := range configs {
		switch {
		case cfg.Key == "":
			results[i] = Result{Err: ErrMissingKey}
			continue
		case count[cfg.Key] > 1:
			results[i] = Result{Err: fmt.Errorf("%w %q", ErrDuplicateKey, cfg.Key)}
			continue
		}
		g.Go(func() error {
			results[i] = o.fetch(ctx, cfg, tc)
			return nil
		})
	}
	_ = g.Wait()

	for i, cfg := range configs {
		if _, seen := out[cfg.Key]; seen {
			continue
		}
		r := results[i]
		if r.Err != nil {
			o.log.Warn("source fetch failed", fetchcache.Fields{"source": cfg.Key, "kind": cfg.Kind, "err": r.Err})
		}
		out[cfg.Key] = r
	}
	return out
}

// Fetch is FetchMany for a single source.
func (o *Orchestrator) Fetch(ctx context.Context, cfg SourceConfig, tc *token.Context) Result {
	return o.fetch(ctx, cfg, tc)
}

func (o *Orchestrator) fetch(ctx context.Context, cfg SourceConfig, tc *token.Context) Result {
	b, req, key, err := o.resolve(cfg, tc)
	if err != nil {
		return Result{Err: err}
	}
	fetch := func(ctx context.Context) (any, error) { return callBackend(ctx, b, req) }

	if !o.enabled {
		data, err := fetch(ctx)
		if err != nil {
			return Result{Err: err, CacheKey: key}
		}
		return Result{Data: data, CacheKey: key}
	}
	data, cached, err := o.cache.GetOrFetch(ctx, key, fetch, o.ttlFor(cfg))
	if err != nil {
		return Result{Err: err, CacheKey: key}
	}
	return Result{Data: data, FromCache: cached, CacheKey: key}
}

// CacheKey returns the cache key cfg resolves to under tc.
func (o *Orchestrator) CacheKey(cfg SourceConfig, tc *token.Context) (string, error) {
	_, _, key, err := o.resolve(cfg, tc)
	return key, err
}

// Refresh drops the cached entry for cfg and fetches it again.
func (o *Orchestrator) Refresh(ctx context.Context, cfg SourceConfig, tc *token.Context) Result {
	if !o.enabled {
		return o.fetch(ctx, cfg, tc)
	}
	b, req, key, err := o.resolve(cfg, tc)
	if err != nil {
		return Result{Err: err}
	}
	data, err := o.cache.Refresh(ctx, key, func(ctx context.Context) (any, error) {
		return callBackend(ctx, b, req)
	}, o.ttlFor(cfg))
	if err != nil {
		return Result{Err: err, CacheKey: key}
	}
	return Result{Data: data, CacheKey: key}
}

// IsCached reports whether cfg currently has a live cache entry.
func (o *Orchestrator) IsCached(ctx context.Context, cfg SourceConfig, tc *token.Context) bool {
	if !o.enabled {
		return false
	}
	_, _, key, err := o.resolve(cfg, tc)
	return err == nil && o.cache.Has(ctx, key)
}

// Invalidate removes cfg's cache entry.
func (o *Orchestrator) Invalidate(ctx context.Context, cfg SourceConfig, tc *token.Context) error {
	if o.cache == nil {
		return nil
	}
	_, _, key, err := o.resolve(cfg, tc)
	if err != nil {
		return err
	}
	return o.cache.Invalidate(ctx, key)
}

// Preload warms the cache for configs and reports the sources that failed.
func (o *Orchestrator) Preload(ctx context.Context, configs []SourceConfig, tc *token.Context) error {
	return o.FetchMany(ctx, configs, tc).Err()
}

// ClearByPrefix removes cached entries whose cache key starts with prefix.
// Cache keys start with the source kind, so ClearByPrefix(ctx, "http_")
// drops every HTTP source.
func (o *Orchestrator) ClearByPrefix(ctx context.Context, prefix string) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.ClearByPrefix(ctx, prefix)
}

func (o *Orchestrator) ClearAll(ctx context.Context) error {
	return o.ClearByPrefix(ctx, "")
}

func (o *Orchestrator) ClearLocks(ctx context.Context) error {
	if o.cache == nil {
		return nil
	}
	return o.cache.ClearLocks(ctx)
}

func (o *Orchestrator) resolve(cfg SourceConfig, tc *token.Context) (Backend, Request, string, error) {
	b, ok := o.backends[cfg.Kind]
	if !ok {
		return nil, Request{}, "", fmt.Errorf("%w %q", ErrUnknownKind, cfg.Kind)
	}
	req, err := b.Resolve(cfg, tc)
	if err != nil {
		return nil, Request{}, "", err
	}
	req.Kind = b.Kind()
	return b, req, util.SignatureKey(string(req.Kind), req.Signature()), nil
}

func (o *Orchestrator) ttlFor(cfg SourceConfig) time.Duration {
	if ttl := cfg.ttl(); ttl > 0 {
		return ttl
	}
	return o.defaultTTL
}

// callBackend turns a backend panic into an error so one source cannot
// take down the others.
func callBackend(ctx context.Context, b Backend, req Request) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("datasource: %s backend panicked: %v", req.Kind, r)
		}
	}()
	return b.Fetch(ctx, req)
}
