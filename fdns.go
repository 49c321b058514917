package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/semihalev/fdns/api"
	"github.com/semihalev/fdns/blocklist"
	"github.com/semihalev/fdns/cache"
	"github.com/semihalev/fdns/config"
	"github.com/semihalev/fdns/middleware"
	"github.com/semihalev/fdns/middleware/accesslist"
	"github.com/semihalev/fdns/middleware/accesslog"
	"github.com/semihalev/fdns/middleware/forwarder"
	"github.com/semihalev/fdns/middleware/metrics"
	"github.com/semihalev/fdns/middleware/ratelimit"
	"github.com/semihalev/fdns/middleware/recovery"
	"github.com/semihalev/fdns/server"
	"github.com/semihalev/fdns/source"
	"github.com/semihalev/fdns/upstream"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zlog.Error("Fatal error", "error", err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "fdns",
		Short:         "Forwarding DNS resolver with blocklist and response cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, version)
			if err != nil {
				return err
			}

			setupLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			zlog.Info("Starting fdns...", "version", version)

			err = run(ctx, cfg)

			zlog.Info("Stopping fdns...")

			return err
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "fdns.toml",
		"location of the config file, if not found it will be generated")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "fdns v"+version)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(cfgPath, version); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "config ok")

			return nil
		},
	})

	return root
}

func setupLogger(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	logger.SetLevel(logLevel(level))

	zlog.SetDefault(logger)
}

func logLevel(level string) zlog.Level {
	switch level {
	case "debug":
		return zlog.LevelDebug
	case "warn":
		return zlog.LevelWarn
	case "error":
		return zlog.LevelError
	default:
		return zlog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	src, err := source.New(cfg.Blocklist.Source)
	if err != nil {
		return fmt.Errorf("blocklist source: %w", err)
	}

	bl := blocklist.New(src, cfg.Blocklist.RefreshInterval.Duration)

	up, err := upstream.New(ctx, cfg.Upstream)
	if err != nil {
		return err
	}
	defer up.Close()

	rc, err := cache.NewFromConfig(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer rc.Close()

	var alog *accesslog.AccessLog
	if cfg.AccessLog != "" {
		if alog, err = accesslog.New(cfg.AccessLog); err != nil {
			return fmt.Errorf("access log: %w", err)
		}
		defer alog.Close()
	}

	handlers := buildHandlers(cfg, prometheus.DefaultRegisterer, alog, bl, rc, up)

	zlog.Info("Middleware chain", "handlers", middleware.Names(handlers))

	srv, err := server.New(ctx, cfg.Server, handlers)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bl.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.API != "" {
		a := api.New(cfg.API, bl)

		g.Go(func() error {
			return a.Run(gctx)
		})
	}

	return g.Wait()
}

func buildHandlers(cfg *config.Config, reg prometheus.Registerer, alog *accesslog.AccessLog,
	bl *blocklist.Manager, rc forwarder.Cache, up forwarder.Resolver) []middleware.Handler {
	handlers := []middleware.Handler{
		recovery.New(),
		metrics.New(reg, bl.Len),
	}

	if len(cfg.AccessList) > 0 {
		handlers = append(handlers, accesslist.New(cfg.AccessList))
	}

	if cfg.ClientRateLimit > 0 {
		handlers = append(handlers, ratelimit.New(cfg.ClientRateLimit))
	}

	if alog != nil {
		handlers = append(handlers, alog)
	}

	return append(handlers, forwarder.New(bl, rc, up))
}
