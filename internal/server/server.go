// Package server exposes the fetchcache services over HTTP.
//
//	GET    /healthz
//	POST   /fetch            {"sources": [...], "context": {...}} => aggregate
//	POST   /preload          same body; warms the cache
//	GET    /render           configured primary source and stages
//	POST   /submit/{key}     form JSON => submit result
//	GET    /profile          current user profile
//	POST   /profile/refresh
//	DELETE /cache[?prefix=]  drop cached entries
//	DELETE /cache/locks      drop lock records
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/internal/app"
	"github.com/unkn0wn-root/fetchcache/token"
)

const maxRequestBody = 1 << 20

type FetchRequest struct {
	Sources []datasource.SourceConfig `json:"sources"`
	Context map[string]any            `json:"context"`
}

type RenderResponse struct {
	Context map[string]any       `json:"context"`
	Results datasource.Aggregate `json:"results"`
	Skipped []string             `json:"skipped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	app *app.App
	log fetchcache.Logger
}

// New returns the API router for a.
func New(a *app.App) http.Handler {
	h := &handler{app: a, log: fetchcache.OrNop(a.Log)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/fetch", h.fetch)
	r.Post("/preload", h.preload)
	r.Get("/render", h.render)
	r.Post("/submit/{key}", h.submit)
	r.Route("/profile", func(r chi.Router) {
		r.Get("/", h.profile)
		r.Post("/refresh", h.refreshProfile)
	})
	r.Route("/cache", func(r chi.Router) {
		r.Delete("/", h.clearCache)
		r.Delete("/locks", h.clearLocks)
	})
	return r
}

func (h *handler) decodeFetch(w http.ResponseWriter, r *http.Request) (FetchRequest, *token.Context, bool) {
	var req FetchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusBadRequest, "sources are required")
		return req, nil, false
	}
	if err := h.checkSources(req.Sources); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return req, nil, false
	}
	tc, err := token.NewContext(req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, nil, false
	}
	return req, tc, true
}

// checkSources keeps client-posted sources away from server credentials:
// delegated HTTP auth is refused and list sources must name the configured
// site verbatim, without tokens.
func (h *handler) checkSources(sources []datasource.SourceConfig) error {
	site := strings.TrimRight(h.app.Config.List.Site, "/")
	for _, s := range sources {
		if s.HTTP != nil {
			if p, err := auth.Select(s.HTTP.Auth); err == nil && p.Strategy == auth.Delegated {
				return fmt.Errorf("source %q: delegated auth is only available to configured sources", s.Key)
			}
		}
		if s.List != nil {
			got := strings.TrimRight(strings.TrimSpace(s.List.Site), "/")
			if site == "" || got != site {
				return fmt.Errorf("source %q: list site must be the configured site", s.Key)
			}
		}
	}
	return nil
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	req, tc, ok := h.decodeFetch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.app.Orchestrator.FetchMany(r.Context(), req.Sources, tc))
}

func (h *handler) preload(w http.ResponseWriter, r *http.Request) {
	req, tc, ok := h.decodeFetch(w, r)
	if !ok {
		return
	}
	if err := h.app.Orchestrator.Preload(r.Context(), req.Sources, tc); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) render(w http.ResponseWriter, r *http.Request) {
	res := h.app.Render(r.Context())
	writeJSON(w, http.StatusOK, RenderResponse{Context: res.Context, Results: res.Results, Skipped: res.Skipped})
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var form map[string]any
	if err := decodeBody(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := h.app.Submit.Submit(r.Context(), key, form)
	status := http.StatusOK
	switch {
	case res.Success:
	case !slices.Contains(h.app.Submit.Endpoints(), key):
		status = http.StatusNotFound
	default:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	if h.app.Profile == nil {
		writeError(w, http.StatusNotFound, "no list store configured")
		return
	}
	writeJSON(w, http.StatusOK, h.app.Profile.Current(r.Context()))
}

func (h *handler) refreshProfile(w http.ResponseWriter, r *http.Request) {
	if h.app.Profile == nil {
		writeError(w, http.StatusNotFound, "no list store configured")
		return
	}
	writeJSON(w, http.StatusOK, h.app.Profile.Refresh(r.Context()))
}

func (h *handler) clearCache(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if err := h.app.Orchestrator.ClearByPrefix(r.Context(), prefix); err != nil {
		h.log.Error("clear cache failed", fetchcache.Fields{"prefix": prefix, "err": err})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if prefix == "" && h.app.Profile != nil {
		if err := h.app.Profile.Clear(r.Context()); err != nil {
			h.log.Warn("clear profile failed", fetchcache.Fields{"err": err})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) clearLocks(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Orchestrator.ClearLocks(r.Context()); err != nil {
		h.log.Error("clear locks failed", fetchcache.Fields{"err": err})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
