// Package rest implements list.Store over a SharePoint-style REST API:
//
//	GET  {site}/_api/web/lists(guid'{list}')?$select=BaseType
//	GET  {site}/_api/web/lists(guid'{list}')/views(guid'{view}')?$select=ListViewXml
//	POST {site}/_api/web/lists(guid'{list}')/GetItems[?$expand=File]
//	POST {site}/_api/web/lists(guid'{list}')/items
//	GET  {site}/_api/web/currentuser
//
// Responses are requested with odata=nometadata.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/datasource/list"
)

const (
	odataJSON = "application/json;odata=nometadata"

	// document libraries have base type 1 and carry a File per item
	baseTypeDocumentLibrary = 1
)

var ErrNilClient = errors.New("rest list store: nil client")

type Store struct {
	doer auth.Doer
}

var _ list.Store = (*Store)(nil)

// New returns a store sending requests through d, typically an identity
// client from auth.ClientCache.
func New(d auth.Doer) (*Store, error) {
	if d == nil {
		return nil, ErrNilClient
	}
	return &Store{doer: d}, nil
}

func listURL(site, listID string) string {
	return site + "/_api/web/lists(guid'" + url.PathEscape(listID) + "')"
}

func (s *Store) Items(ctx context.Context, q list.Query) ([]map[string]any, error) {
	base := listURL(q.Site, q.List)

	var info struct {
		BaseType int `json:"BaseType"`
	}
	if err := s.do(ctx, http.MethodGet, base+"?$select=BaseType", nil, &info); err != nil {
		return nil, fmt.Errorf("read list %s: %w", q.List, err)
	}

	var view struct {
		ListViewXml string `json:"ListViewXml"`
	}
	viewURL := base + "/views(guid'" + url.PathEscape(q.View) + "')?$select=ListViewXml"
	if err := s.do(ctx, http.MethodGet, viewURL, nil, &view); err != nil {
		return nil, fmt.Errorf("read view %s: %w", q.View, err)
	}

	itemsURL := base + "/GetItems"
	if info.BaseType == baseTypeDocumentLibrary {
		itemsURL += "?$expand=File"
	}
	body := map[string]any{"query": map[string]any{"ViewXml": view.ListViewXml}}
	var items struct {
		Value []map[string]any `json:"value"`
	}
	if err := s.do(ctx, http.MethodPost, itemsURL, body, &items); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	if items.Value == nil {
		items.Value = []map[string]any{}
	}
	return items.Value, nil
}

func (s *Store) AddItem(ctx context.Context, site, listID string, fields map[string]any) (map[string]any, error) {
	var created map[string]any
	if err := s.do(ctx, http.MethodPost, listURL(site, listID)+"/items", fields, &created); err != nil {
		return nil, fmt.Errorf("add item to %s: %w", listID, err)
	}
	return created, nil
}

func (s *Store) CurrentUser(ctx context.Context, site string) (map[string]any, error) {
	var u map[string]any
	if err := s.do(ctx, http.MethodGet, site+"/_api/web/currentuser", nil, &u); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return u, nil
}

func (s *Store) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", odataJSON)
	if in != nil {
		req.Header.Set("Content-Type", odataJSON)
	}
	resp, err := s.doer.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &datasource.StatusError{Status: resp.StatusCode, Body: string(text)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
