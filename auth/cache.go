package auth

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ClientCache memoizes IdentityProvider clients per identity. Concurrent
// first requests for one identity share a single acquisition. Failed
// acquisitions are not cached.
type ClientCache struct {
	provider IdentityProvider

	mu      sync.RWMutex
	clients map[string]Doer
	flight  singleflight.Group
}

func NewClientCache(p IdentityProvider) *ClientCache {
	return &ClientCache{provider: p, clients: make(map[string]Doer)}
}

func (c *ClientCache) Client(ctx context.Context, identity string) (Doer, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	if c == nil || c.provider == nil {
		return nil, ErrNoIdentities
	}
	c.mu.RLock()
	d, ok := c.clients[identity]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := c.flight.Do(identity, func() (any, error) {
		c.mu.RLock()
		d, ok := c.clients[identity]
		c.mu.RUnlock()
		if ok {
			return d, nil
		}
		d, err := c.provider.Client(ctx, identity)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.clients[identity] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Doer), nil
}

// Forget drops the cached client so the next call acquires a new one.
func (c *ClientCache) Forget(identity string) {
	c.mu.Lock()
	delete(c.clients, identity)
	c.mu.Unlock()
}

func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Doer returns a Doer that acquires the identity's client on first use,
// with the request's context.
func (c *ClientCache) Doer(identity string) Doer {
	return identityDoer{cache: c, identity: identity}
}

type identityDoer struct {
	cache    *ClientCache
	identity string
}

func (d identityDoer) Do(req *http.Request) (*http.Response, error) {
	client, err := d.cache.Client(req.Context(), d.identity)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}
