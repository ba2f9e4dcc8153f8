package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/fetchcache/provider"
)

// ErrRejected is returned by Set when ristretto's admission policy drops the write.
var ErrRejected = errors.New("ristretto: set rejected")

// Provider adapts ristretto. Ristretto hashes keys internally and cannot
// enumerate them, so the provider keeps a side index of written keys.
// The index may lag behind evictions; Keys filters it against the cache.
type Provider struct {
	c *rc.Cache

	mu    sync.Mutex
	index map[string]struct{}
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c, index: make(map[string]struct{})}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set writes synchronously: ristretto buffers sets, so Wait is called to keep
// read-your-writes semantics that lock records depend on.
func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cost := int64(len(value))
	if cost == 0 {
		cost = 1
	}
	var ok bool
	if ttl > 0 {
		ok = p.c.SetWithTTL(key, value, cost, ttl)
	} else {
		ok = p.c.Set(key, value, cost)
	}
	if !ok {
		return ErrRejected
	}
	p.c.Wait()
	p.mu.Lock()
	p.index[key] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.mu.Lock()
	delete(p.index, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	p.mu.Lock()
	candidates := make([]string, 0, len(p.index))
	for k := range p.index {
		if strings.HasPrefix(k, prefix) {
			candidates = append(candidates, k)
		}
	}
	p.mu.Unlock()

	out := candidates[:0]
	var gone []string
	for _, k := range candidates {
		if _, ok := p.c.Get(k); ok {
			out = append(out, k)
		} else {
			gone = append(gone, k)
		}
	}
	if len(gone) > 0 {
		p.mu.Lock()
		for _, k := range gone {
			delete(p.index, k)
		}
		p.mu.Unlock()
	}
	return out, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Helper to expose metrics if desired by the application (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
