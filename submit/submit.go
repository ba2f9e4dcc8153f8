// Package submit routes form submissions to registered endpoints: a list
// store (append an item) or an HTTP API (POST/PUT JSON). Submissions are
// never cached and never fail with an error or panic; every outcome is a
// Result.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/datasource/httpsource"
	"github.com/unkn0wn-root/fetchcache/datasource/list"
)

const (
	TypeList = "list"
	TypeHTTP = "http"
)

var (
	ErrNoStore   = errors.New("submit: list endpoints need a list store")
	ErrNoHTTP    = errors.New("submit: http endpoints need an http backend")
	errListConf  = errors.New("list submit endpoint missing site or list configuration")
	errHTTPConf  = errors.New("HTTP submit endpoint missing URL configuration")
	errNilResult = errors.New("submit: backend returned no result")
)

// Endpoint is a registered submission target.
type Endpoint struct {
	Key  string `yaml:"key" toml:"key" json:"key"`
	Type string `yaml:"type" toml:"type" json:"type"` // list | http

	// list
	Site string `yaml:"site" toml:"site" json:"site,omitempty"`
	List string `yaml:"list" toml:"list" json:"list,omitempty"`

	// http
	URL     string            `yaml:"url" toml:"url" json:"url,omitempty"`
	Method  string            `yaml:"method" toml:"method" json:"method,omitempty"` // "" => POST
	Headers map[string]string `yaml:"headers" toml:"headers" json:"headers,omitempty"`
	Auth    auth.Config       `yaml:"auth" toml:"auth" json:"auth,omitempty"`
}

// Result is the outcome of one submission.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status,omitempty"`
}

type Options struct {
	Endpoints []Endpoint
	Store     list.Store          // for list endpoints
	HTTP      *httpsource.Backend // for http endpoints; shares its identity client cache
	Logger    fetchcache.Logger
}

type Service struct {
	endpoints map[string]Endpoint
	order     []string
	store     list.Store
	http      *httpsource.Backend
	log       fetchcache.Logger
}

// New registers endpoints. Duplicate or empty keys, unknown types and
// list/http endpoints without their backend are rejected here.
func New(opts Options) (*Service, error) {
	s := &Service{
		endpoints: make(map[string]Endpoint, len(opts.Endpoints)),
		store:     opts.Store,
		http:      opts.HTTP,
		log:       fetchcache.OrNop(opts.Logger),
	}
	for _, ep := range opts.Endpoints {
		if ep.Key == "" {
			return nil, errors.New("submit: endpoint key is required")
		}
		if _, dup := s.endpoints[ep.Key]; dup {
			return nil, fmt.Errorf("submit: duplicate endpoint key %q", ep.Key)
		}
		ep.Type = normalizeType(ep.Type)
		switch ep.Type {
		case TypeList:
			if s.store == nil {
				return nil, fmt.Errorf("%w (endpoint %q)", ErrNoStore, ep.Key)
			}
		case TypeHTTP:
			if s.http == nil {
				return nil, fmt.Errorf("%w (endpoint %q)", ErrNoHTTP, ep.Key)
			}
		default:
			return nil, fmt.Errorf("submit: unknown endpoint type %q for %q", ep.Type, ep.Key)
		}
		s.endpoints[ep.Key] = ep
		s.order = append(s.order, ep.Key)
	}
	return s, nil
}

// Endpoints lists registered keys in registration order.
func (s *Service) Endpoints() []string {
	return append([]string(nil), s.order...)
}

func (s *Service) Submit(ctx context.Context, key string, form map[string]any) (res Result) {
	ep, ok := s.endpoints[key]
	if !ok {
		return Result{Error: fmt.Sprintf("submit endpoint '%s' not found. Available: %s", key, strings.Join(s.order, ", "))}
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("submit panicked", fetchcache.Fields{"endpoint": key, "panic": r})
			res = Result{Error: fmt.Sprint(r)}
		}
	}()

	var err error
	switch ep.Type {
	case TypeList:
		res, err = s.submitList(ctx, ep, form)
	case TypeHTTP:
		res, err = s.submitHTTP(ctx, ep, form)
	}
	if err != nil {
		s.log.Warn("submit failed", fetchcache.Fields{"endpoint": key, "err": err})
		res.Success = false
		res.Error = err.Error()
		var se *datasource.StatusError
		if errors.As(err, &se) {
			res.Status = se.Status
		}
	}
	return res
}

func (s *Service) submitList(ctx context.Context, ep Endpoint, form map[string]any) (Result, error) {
	if ep.Site == "" || ep.List == "" {
		return Result{}, errListConf
	}
	item, err := s.store.AddItem(ctx, strings.TrimRight(ep.Site, "/"), ep.List, form)
	if err != nil {
		return Result{}, err
	}
	if item == nil {
		return Result{}, errNilResult
	}
	return Result{Success: true, Data: item}, nil
}

func (s *Service) submitHTTP(ctx context.Context, ep Endpoint, form map[string]any) (Result, error) {
	if strings.TrimSpace(ep.URL) == "" {
		return Result{}, errHTTPConf
	}
	method, err := httpsource.NormalizeMethod(ep.Method, http.MethodPost)
	if err != nil {
		return Result{}, err
	}
	plan, err := auth.Select(ep.Auth)
	if err != nil {
		return Result{}, err
	}
	if form == nil {
		form = map[string]any{}
	}
	body, err := json.Marshal(form)
	if err != nil {
		return Result{}, fmt.Errorf("encode form: %w", err)
	}
	data, status, err := s.http.Send(ctx, datasource.Request{
		Kind:    datasource.KindHTTP,
		Method:  method,
		URL:     ep.URL,
		Body:    string(body),
		Headers: ep.Headers,
		Auth:    plan,
	})
	if err != nil {
		return Result{Status: status}, err
	}
	return Result{Success: true, Data: data, Status: status}, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "list", "sharepoint":
		return TypeList
	case "http":
		return TypeHTTP
	}
	return t
}
