// Package httpsource is the datasource backend for HTTP endpoints.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/token"
)

const (
	defaultMaxBody = 8 << 20
	maxErrorBody   = 4 << 10
)

type Options struct {
	Clients auth.Clients
	MaxBody int64 // response size limit; <= 0 => 8 MiB
	Logger  fetchcache.Logger
}

type Backend struct {
	clients auth.Clients
	maxBody int64
	log     fetchcache.Logger
}

var _ datasource.Backend = (*Backend)(nil)

func New(opts Options) *Backend {
	b := &Backend{clients: opts.Clients, maxBody: opts.MaxBody, log: fetchcache.OrNop(opts.Logger)}
	if b.maxBody <= 0 {
		b.maxBody = defaultMaxBody
	}
	return b
}

func (b *Backend) Kind() datasource.Kind { return datasource.KindHTTP }

func (b *Backend) Resolve(cfg datasource.SourceConfig, tc *token.Context) (datasource.Request, error) {
	p := cfg.HTTP
	if p == nil || strings.TrimSpace(p.URL) == "" {
		return datasource.Request{}, datasource.ErrMissingURL
	}
	u := strings.TrimSpace(tc.Resolve(p.URL))
	if u == "" {
		return datasource.Request{}, datasource.ErrMissingURL
	}
	method, err := NormalizeMethod(p.Method, http.MethodGet)
	if err != nil {
		return datasource.Request{}, err
	}
	plan, err := auth.Select(p.Auth)
	if err != nil {
		return datasource.Request{}, err
	}
	var query []datasource.Param
	if len(p.Query) > 0 {
		query = make([]datasource.Param, len(p.Query))
		for i, q := range p.Query {
			query[i] = datasource.Param{Name: q.Name, Value: tc.Resolve(q.Value)}
		}
	}
	return datasource.Request{
		Kind:    datasource.KindHTTP,
		Method:  method,
		URL:     u,
		Query:   query,
		Body:    tc.Resolve(p.Body),
		Headers: p.Headers,
		Auth:    plan,
	}, nil
}

func (b *Backend) Fetch(ctx context.Context, req datasource.Request) (any, error) {
	data, _, err := b.Send(ctx, req)
	return data, err
}

// Send performs req and decodes the response: JSON when the content type
// says so, text otherwise. A non-2xx status is a *datasource.StatusError.
func (b *Backend) Send(ctx context.Context, req datasource.Request) (data any, status int, err error) {
	client, err := b.clients.For(ctx, req.Auth)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, WithQuery(req.URL, req.Query), body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	hr.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}
	req.Auth.Apply(hr)
	if req.Body != "" {
		hr.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(hr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.log.Debug("http source returned error status", fetchcache.Fields{"url": req.URL, "status": resp.StatusCode})
		return nil, resp.StatusCode, &datasource.StatusError{Status: resp.StatusCode, Body: string(text)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(raw)) > b.maxBody {
		return nil, resp.StatusCode, fmt.Errorf("response body exceeds %d bytes", b.maxBody)
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return string(raw), resp.StatusCode, nil
	}
	if len(raw) == 0 {
		return nil, resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode json response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// WithQuery appends params to rawURL in order, form-encoded.
func WithQuery(rawURL string, params []datasource.Param) string {
	if len(params) == 0 {
		return rawURL
	}
	var sb strings.Builder
	sb.WriteString(rawURL)
	if strings.Contains(rawURL, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// NormalizeMethod upper-cases m and checks it is a supported verb. Empty m yields def.
func NormalizeMethod(m, def string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return def, nil
	}
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return m, nil
	}
	return "", fmt.Errorf("%w %q", datasource.ErrBadMethod, m)
}
