// Package profile serves the current user's profile through a fetchcache.Cache.
// The profile is what templates reach as {{user.*}}.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/codec"
	"github.com/unkn0wn-root/fetchcache/datasource/list"
	pr "github.com/unkn0wn-root/fetchcache/provider"
)

const (
	CacheKey   = "user_profile"
	DefaultTTL = 24 * time.Hour

	unknownUser = "Unknown User"
)

var ErrNoStore = errors.New("profile: list store is required")

type Profile struct {
	ID                int            `json:"id"`
	LoginName         string         `json:"loginName"`
	Email             string         `json:"email"`
	DisplayName       string         `json:"displayName"`
	Title             string         `json:"title"`
	UserPrincipalName string         `json:"userPrincipalName"`
	Properties        map[string]any `json:"properties"`
}

// Unknown is served when the store cannot produce a profile.
func Unknown() Profile {
	return Profile{DisplayName: unknownUser, Properties: map[string]any{}}
}

// Map is the token-context shape of p.
func (p Profile) Map() map[string]any {
	return map[string]any{
		"id":                p.ID,
		"loginName":         p.LoginName,
		"email":             p.Email,
		"displayName":       p.DisplayName,
		"title":             p.Title,
		"userPrincipalName": p.UserPrincipalName,
		"properties":        p.Properties,
	}
}

type Options struct {
	Store    list.Store
	Site     string
	Provider pr.Provider
	Lock     fetchcache.DistributedLock // nil => StoreLock over Provider
	TTL      time.Duration              // <= 0 => 24h
	Clock    fetchcache.Clock
	Logger   fetchcache.Logger
	Hooks    fetchcache.Hooks
	Disabled bool
}

type Service struct {
	cache *fetchcache.Cache[Profile]
	store list.Store
	site  string
	ttl   time.Duration
	log   fetchcache.Logger
}

// New builds a service whose cache lives in its own "profile" namespace.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := fetchcache.New(fetchcache.Options[Profile]{
		Namespace:  "profile",
		Provider:   opts.Provider,
		Codec:      codec.JSON[Profile]{},
		Logger:     opts.Logger,
		Hooks:      opts.Hooks,
		Clock:      opts.Clock,
		Lock:       opts.Lock,
		DefaultTTL: ttl,
		Disabled:   opts.Disabled,
	})
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}
	return &Service{cache: c, store: opts.Store, site: opts.Site, ttl: ttl, log: fetchcache.OrNop(opts.Logger)}, nil
}

// Current returns the cached profile, fetching it on a miss. A failed fetch
// yields Unknown() and is not cached, so the next call retries.
func (s *Service) Current(ctx context.Context) Profile {
	p, _, err := s.cache.GetOrFetch(ctx, CacheKey, s.fetch, s.ttl)
	if err != nil {
		s.log.Warn("user profile unavailable", fetchcache.Fields{"err": err})
		return Unknown()
	}
	return p
}

func (s *Service) Refresh(ctx context.Context) Profile {
	if err := s.cache.Invalidate(ctx, CacheKey); err != nil {
		s.log.Warn("drop cached profile failed", fetchcache.Fields{"err": err})
	}
	return s.Current(ctx)
}

func (s *Service) Clear(ctx context.Context) error {
	return s.cache.Invalidate(ctx, CacheKey)
}

func (s *Service) fetch(ctx context.Context) (Profile, error) {
	u, err := s.store.CurrentUser(ctx, s.site)
	if err != nil {
		return Profile{}, err
	}
	if u == nil {
		return Profile{}, errors.New("profile: store returned no user")
	}
	p := Profile{
		ID:                intField(u, "Id"),
		LoginName:         stringField(u, "LoginName"),
		Email:             stringField(u, "Email"),
		Title:             stringField(u, "Title"),
		UserPrincipalName: stringField(u, "UserPrincipalName"),
		Properties:        u,
	}
	p.DisplayName = p.Title
	if p.DisplayName == "" {
		p.DisplayName = p.LoginName
	}
	return p, nil
}

func stringField(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func intField(m map[string]any, k string) int {
	switch v := m[k].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
