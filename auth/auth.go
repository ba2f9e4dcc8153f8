// Package auth selects how an outgoing request authenticates and supplies
// the HTTP client that sends it.
//
// Selection is a pure function of configuration (Select). Only the
// delegated strategy needs a per-identity client; those clients are
// acquired through an IdentityProvider and cached by ClientCache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Strategy string

const (
	None      Strategy = "none"
	APIKey    Strategy = "apikey"
	Bearer    Strategy = "bearer"
	Delegated Strategy = "delegated"
)

var (
	ErrMissingIdentity = errors.New("auth: delegated auth requires an identity")
	ErrMissingAPIKey   = errors.New("auth: api key auth requires header name and value")
	ErrMissingToken    = errors.New("auth: bearer auth requires a token")
	ErrNoIdentities    = errors.New("auth: no identity provider configured")
)

// Config is the auth part of a source or submit endpoint.
type Config struct {
	Type         string `yaml:"type" toml:"type" json:"type,omitempty"`
	Identity     string `yaml:"identity" toml:"identity" json:"identity,omitempty"`
	APIKeyHeader string `yaml:"api_key_header" toml:"api_key_header" json:"apiKeyHeader,omitempty"`
	APIKeyValue  string `yaml:"api_key_value" toml:"api_key_value" json:"apiKeyValue,omitempty"`
	BearerToken  string `yaml:"bearer_token" toml:"bearer_token" json:"bearerToken,omitempty"`
}

// Plan is a resolved auth decision.
type Plan struct {
	Strategy Strategy
	Identity string            // set for Delegated
	Headers  map[string]string // added to every request
}

// ParseStrategy accepts the canonical names and the "aad", "anonymous" and
// "apiKey" spellings. An empty name is returned as "".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "none", "anonymous":
		return None, nil
	case "apikey", "api_key":
		return APIKey, nil
	case "bearer":
		return Bearer, nil
	case "delegated", "aad", "identity":
		return Delegated, nil
	}
	return "", fmt.Errorf("auth: unknown strategy %q", s)
}

// Select resolves c into a Plan. An empty type means Delegated when an
// identity is configured and None otherwise.
func Select(c Config) (Plan, error) {
	s, err := ParseStrategy(c.Type)
	if err != nil {
		return Plan{}, err
	}
	if s == "" {
		s = None
		if c.Identity != "" {
			s = Delegated
		}
	}
	p := Plan{Strategy: s}
	switch s {
	case Delegated:
		if c.Identity == "" {
			return Plan{}, ErrMissingIdentity
		}
		p.Identity = c.Identity
	case APIKey:
		if c.APIKeyHeader == "" || c.APIKeyValue == "" {
			return Plan{}, ErrMissingAPIKey
		}
		p.Headers = map[string]string{c.APIKeyHeader: c.APIKeyValue}
	case Bearer:
		if c.BearerToken == "" {
			return Plan{}, ErrMissingToken
		}
		p.Headers = map[string]string{"Authorization": "Bearer " + c.BearerToken}
	}
	return p, nil
}

// Apply sets the plan's headers on req, overriding same-named headers.
func (p Plan) Apply(req *http.Request) {
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
}

// Doer sends requests. *http.Client and the clients returned by an
// IdentityProvider satisfy it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// IdentityProvider acquires a client that authenticates as identity.
type IdentityProvider interface {
	Client(ctx context.Context, identity string) (Doer, error)
}

// Clients hands out the Doer for a Plan.
type Clients struct {
	Default    Doer         // nil => http.DefaultClient
	Identities *ClientCache // required for Delegated plans
}

func (c Clients) For(ctx context.Context, p Plan) (Doer, error) {
	if p.Strategy != Delegated {
		if c.Default == nil {
			return http.DefaultClient, nil
		}
		return c.Default, nil
	}
	if c.Identities == nil {
		return nil, ErrNoIdentities
	}
	return c.Identities.Client(ctx, p.Identity)
}
