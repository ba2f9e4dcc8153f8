// Package list is the datasource backend for list views in a list store.
package list

import (
	"context"
	"strings"

	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/token"
)

// Query identifies a list view.
type Query struct {
	Site string
	List string
	View string
}

// Store is the list service the backend and form submissions talk to.
type Store interface {
	// Items returns the rows the view selects.
	Items(ctx context.Context, q Query) ([]map[string]any, error)
	// AddItem appends a row and returns the created item.
	AddItem(ctx context.Context, site, list string, fields map[string]any) (map[string]any, error)
	// CurrentUser returns the profile of the caller.
	CurrentUser(ctx context.Context, site string) (map[string]any, error)
}

type Backend struct {
	store Store
}

var _ datasource.Backend = (*Backend)(nil)

func New(store Store) *Backend { return &Backend{store: store} }

func (b *Backend) Kind() datasource.Kind { return datasource.KindList }

func (b *Backend) Resolve(cfg datasource.SourceConfig, tc *token.Context) (datasource.Request, error) {
	p := cfg.List
	if p == nil {
		return datasource.Request{}, datasource.ErrMissingList
	}
	site := strings.TrimRight(strings.TrimSpace(tc.Resolve(p.Site)), "/")
	list := strings.TrimSpace(tc.Resolve(p.List))
	view := strings.TrimSpace(tc.Resolve(p.View))
	if site == "" || list == "" || view == "" {
		return datasource.Request{}, datasource.ErrMissingList
	}
	return datasource.Request{
		Kind:   datasource.KindList,
		Method: "VIEW",
		Site:   site,
		List:   strings.ToLower(list),
		View:   strings.ToLower(view),
	}, nil
}

// Fetch returns the rows as []any so fresh and cached results have the same shape.
func (b *Backend) Fetch(ctx context.Context, req datasource.Request) (any, error) {
	rows, err := b.store.Items(ctx, Query{Site: req.Site, List: req.List, View: req.View})
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}
