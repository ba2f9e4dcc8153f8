package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Identity is an app registration used for client-credential grants.
type OAuth2Identity struct {
	ClientID     string            `yaml:"client_id" toml:"client_id"`
	ClientSecret string            `yaml:"client_secret" toml:"client_secret"`
	TokenURL     string            `yaml:"token_url" toml:"token_url"`
	Scopes       []string          `yaml:"scopes" toml:"scopes"`
	Params       map[string]string `yaml:"params" toml:"params"` // extra token request fields, e.g. resource
}

// OAuth2Provider is an IdentityProvider over the client-credentials flow.
// The returned clients cache and refresh their tokens.
type OAuth2Provider struct {
	identities map[string]OAuth2Identity
	base       *http.Client
}

var _ IdentityProvider = (*OAuth2Provider)(nil)

// NewOAuth2Provider copies identities. base, when set, is the transport
// for token and resource requests.
func NewOAuth2Provider(identities map[string]OAuth2Identity, base *http.Client) *OAuth2Provider {
	ids := make(map[string]OAuth2Identity, len(identities))
	for k, v := range identities {
		ids[k] = v
	}
	return &OAuth2Provider{identities: ids, base: base}
}

func (p *OAuth2Provider) Client(ctx context.Context, identity string) (Doer, error) {
	id, ok := p.identities[identity]
	if !ok {
		return nil, fmt.Errorf("auth: unknown identity %q", identity)
	}
	if id.ClientID == "" || id.TokenURL == "" {
		return nil, fmt.Errorf("auth: identity %q needs client_id and token_url", identity)
	}
	cfg := clientcredentials.Config{
		ClientID:     id.ClientID,
		ClientSecret: id.ClientSecret,
		TokenURL:     id.TokenURL,
		Scopes:       id.Scopes,
	}
	if len(id.Params) > 0 {
		cfg.EndpointParams = url.Values{}
		for k, v := range id.Params {
			cfg.EndpointParams.Set(k, v)
		}
	}
	// the client outlives this call; token refreshes must not inherit its cancellation
	tokenCtx := context.WithoutCancel(ctx)
	if p.base != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, p.base)
	}
	return cfg.Client(tokenCtx), nil
}
