// Package app wires the fetchcache services from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/codec"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/datasource/httpsource"
	"github.com/unkn0wn-root/fetchcache/datasource/list"
	"github.com/unkn0wn-root/fetchcache/datasource/list/rest"
	asynchook "github.com/unkn0wn-root/fetchcache/hooks/async"
	"github.com/unkn0wn-root/fetchcache/internal/config"
	"github.com/unkn0wn-root/fetchcache/lock/redislock"
	"github.com/unkn0wn-root/fetchcache/profile"
	pr "github.com/unkn0wn-root/fetchcache/provider"
	"github.com/unkn0wn-root/fetchcache/provider/bigcache"
	"github.com/unkn0wn-root/fetchcache/provider/memory"
	"github.com/unkn0wn-root/fetchcache/provider/redis"
	"github.com/unkn0wn-root/fetchcache/provider/ristretto"
	"github.com/unkn0wn-root/fetchcache/provider/sqlite"
	"github.com/unkn0wn-root/fetchcache/sloghooks"
	"github.com/unkn0wn-root/fetchcache/submit"
	"github.com/unkn0wn-root/fetchcache/token"
)

type Options struct {
	Logger fetchcache.Logger
	// HookLogger receives sampled cache events; nil => no hooks.
	HookLogger *slog.Logger
	// ListStore replaces the REST list store, mostly for tests.
	ListStore list.Store
	// HTTPClient is the default client for unauthenticated and header-auth calls.
	HTTPClient *http.Client
}

type App struct {
	Config       *config.Config
	Log          fetchcache.Logger
	Store        pr.Provider
	Cache        *fetchcache.Cache[any]
	Orchestrator *datasource.Orchestrator
	Submit       *submit.Service
	Profile      *profile.Service // nil without a list store

	closers []func(context.Context) error
}

// New builds every service cfg describes. Close releases the store and hooks.
func New(cfg *config.Config, opts Options) (a *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a = &App{Config: cfg, Log: fetchcache.OrNop(opts.Logger)}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var hooks fetchcache.Hooks
	if opts.HookLogger != nil {
		h := asynchook.New(sloghooks.New(opts.HookLogger, sloghooks.Options{SelfHealEvery: 10, LockWaitEvery: 10}), 1, 1024)
		a.closers = append(a.closers, func(context.Context) error { h.Close(); return nil })
		hooks = h
	}

	store, lock, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	cc, err := codec.ForName(cfg.Cache.Codec)
	if err != nil {
		return nil, err
	}
	a.Cache, err = fetchcache.New(fetchcache.Options[any]{
		Namespace:  cfg.Cache.Namespace,
		Provider:   store,
		Codec:      codec.Limit(cc, cfg.Cache.MaxEntryBytes),
		Logger:     a.Log,
		Hooks:      hooks,
		Lock:       lock,
		DefaultTTL: cfg.Cache.DefaultTTL(),
		LockWait:   cfg.Cache.LockWait(),
		LockPoll:   cfg.Cache.LockPoll(),
		LockExpiry: cfg.Cache.LockExpiry(),
		Disabled:   !cfg.Cache.IsEnabled(),
	})
	if err != nil {
		return nil, err
	}

	base := opts.HTTPClient
	var identities *auth.ClientCache
	if len(cfg.Identities) > 0 {
		identities = auth.NewClientCache(auth.NewOAuth2Provider(cfg.Identities, base))
	}
	clients := auth.Clients{Identities: identities}
	if base != nil {
		clients.Default = base
	}
	httpBackend := httpsource.New(httpsource.Options{Clients: clients, Logger: a.Log})

	listStore := opts.ListStore
	if listStore == nil && cfg.List.Site != "" {
		var doer auth.Doer = http.DefaultClient
		if base != nil {
			doer = base
		}
		if cfg.List.Identity != "" {
			doer = identities.Doer(cfg.List.Identity)
		}
		if listStore, err = rest.New(doer); err != nil {
			return nil, err
		}
	}

	backends := []datasource.Backend{httpBackend}
	if listStore != nil {
		backends = append(backends, list.New(listStore))
	}
	a.Orchestrator, err = datasource.New(datasource.Options{
		Cache:    a.Cache,
		Backends: backends,
		Disabled: !cfg.Cache.IsEnabled(),
		Logger:   a.Log,
	})
	if err != nil {
		return nil, err
	}

	a.Submit, err = submit.New(submit.Options{
		Endpoints: cfg.Submit,
		Store:     listStore,
		HTTP:      httpBackend,
		Logger:    a.Log,
	})
	if err != nil {
		return nil, err
	}

	if listStore != nil {
		a.Profile, err = profile.New(profile.Options{
			Store:    listStore,
			Site:     cfg.List.Site,
			Provider: store,
			Lock:     lock,
			Logger:   a.Log,
			Hooks:    hooks,
			Disabled: !cfg.Cache.IsEnabled(),
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// openStore returns the provider for cfg.Store and, for redis, a lock
// that uses SET NX instead of the store-backed default.
func (a *App) openStore(cfg *config.Config) (pr.Provider, fetchcache.DistributedLock, error) {
	sc := cfg.Store
	var p pr.Provider
	var lock fetchcache.DistributedLock
	switch sc.Driver {
	case config.DriverMemory:
		p = memory.New()
	case config.DriverSQLite:
		sp, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		p = sp
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{Addr: sc.Addr, Password: sc.Password, DB: sc.DB})
		rp, err := redis.New(redis.Config{Client: client, CloseClient: true})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		rl, err := redislock.New(client, redislock.Options{
			Namespace: cfg.Cache.Namespace,
			Expiry:    cfg.Cache.LockExpiry(),
			Logger:    a.Log,
		})
		if err != nil {
			_ = rp.Close(context.Background())
			return nil, nil, err
		}
		p, lock = rp, rl
	case config.DriverBigcache:
		bp, err := bigcache.New(bigcache.Config{
			LifeWindow:         time.Duration(sc.LifeWindowMinutes) * time.Minute,
			HardMaxCacheSizeMB: sc.HardMaxCacheSizeMB,
		})
		if err != nil {
			return nil, nil, err
		}
		p = bp
	case config.DriverRistretto:
		rp, err := ristretto.New(ristretto.Config{
			NumCounters: sc.NumCounters,
			MaxCost:     sc.MaxCost,
			BufferItems: sc.BufferItems,
		})
		if err != nil {
			return nil, nil, err
		}
		p = rp
	default:
		return nil, nil, fmt.Errorf("app: unknown store driver %q", sc.Driver)
	}
	a.closers = append(a.closers, p.Close)
	return p, lock, nil
}

// Render is everything a template sees: the static context, the user
// profile under "user", the primary source under "items" and every stage.
type Render struct {
	Context map[string]any
	Results datasource.Aggregate
	Skipped []string
}

// Render fetches the configured primary source and stages.
func (a *App) Render(ctx context.Context) Render {
	base := make(map[string]any, len(a.Config.Context)+2)
	maps.Copy(base, a.Config.Context)
	if a.Profile != nil {
		base[datasource.UserKey] = a.Profile.Current(ctx).Map()
	}

	var primary datasource.Result
	if p := a.Config.Primary; p != nil {
		tc, err := token.NewContext(base)
		if err != nil {
			a.Log.Warn("render context not encodable; tokens resolve empty", fetchcache.Fields{"err": err})
		}
		primary = a.Orchestrator.Fetch(ctx, *p, tc)
		base[datasource.ItemsKey] = primary.Data
	}

	res := a.Orchestrator.FetchStages(ctx, base, a.Config.Sources()...)
	if p := a.Config.Primary; p != nil {
		if _, dup := res.Results[p.Key]; dup {
			res.Skipped = append(res.Skipped, p.Key)
		}
		res.Results[p.Key] = primary
	}
	return Render{Context: res.Context, Results: res.Results, Skipped: res.Skipped}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
