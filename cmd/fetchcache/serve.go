package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/internal/app"
	"github.com/unkn0wn-root/fetchcache/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fetch, submit and cache API over HTTP",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app.App) error {
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(a),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.Log.Info("server started", fetchcache.Fields{"addr": addr})

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Log.Info("server stopping", nil)
			return srv.Shutdown(shutdownCtx)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, then :8080)")
	return cmd
}
