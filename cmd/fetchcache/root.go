package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fetchcache"
	"github.com/unkn0wn-root/fetchcache/internal/app"
	"github.com/unkn0wn-root/fetchcache/internal/config"
	fclogrus "github.com/unkn0wn-root/fetchcache/log/logrus"
	fcslog "github.com/unkn0wn-root/fetchcache/log/slog"
	fczap "github.com/unkn0wn-root/fetchcache/log/zap"
)

type rootOptions struct {
	configFile string
	logger     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "fetchcache",
		Short:        "Fetch many data sources through a shared, lock-coordinated cache",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "fetchcache.yaml", "Config file path (.yaml, .yml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.logger, "logger", "slog", "Logger backend: slog, zap or logrus")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level")

	cmd.AddCommand(
		newFetchCmd(opts),
		newSubmitCmd(opts),
		newCacheCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// withApp loads the config, builds the app and closes it after run.
func withApp(opts *rootOptions, run func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, opts.configFile)
		if err != nil {
			return err
		}
		log, hookLog, err := newLogger(opts.logger, opts.logLevel, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		a, err := app.New(cfg, app.Options{Logger: log, HookLogger: hookLog})
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		defer func() {
			if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
				log.Warn("close app failed", fetchcache.Fields{"err": err})
			}
		}()
		return run(cmd, args, a)
	}
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, err
}

// newLogger returns the service logger and the slog logger used for cache hooks.
func newLogger(kind, level string, w io.Writer) (fetchcache.Logger, *slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level %q", level)
	}
	hookLog := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))

	switch strings.ToLower(kind) {
	case "slog":
		return fcslog.New(hookLog), hookLog, nil
	case "zap":
		z, err := fczap.NewProduction(level)
		if err != nil {
			return nil, nil, err
		}
		return z, hookLog, nil
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.JSONFormatter{})
		ll, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level %q", level)
		}
		l.SetLevel(ll)
		return fclogrus.New(l), hookLog, nil
	default:
		return nil, nil, fmt.Errorf("invalid --logger %q: must be slog, zap or logrus", kind)
	}
}
