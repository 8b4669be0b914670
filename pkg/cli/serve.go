package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/platinummonkey/ledmatrix/pkg/api"
	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plugin management API",
		Long: `Serve the plugin management HTTP API.

With LEDMATRIX_AUTO_UPDATE=true installed plugins are updated on
LEDMATRIX_UPDATE_SCHEDULE. With LEDMATRIX_WATCH_PLUGINS=true plugins whose
directories are removed by hand are evicted from the module cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runWithApp(cmd, func(app *App) error {
				if addr != "" {
					host, port, err := splitAddr(addr)
					if err != nil {
						return err
					}
					app.Config.Server.Host, app.Config.Server.Port = host, port
				}
				return serve(cmd.Context(), app)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LEDMATRIX_HOST and LEDMATRIX_PORT)")
	return cmd
}

func serve(ctx context.Context, app *App) error {
	cfg := app.Config
	log := app.Log

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), log)
	if err != nil {
		return err
	}

	serverOpts := []api.Option{
		api.WithHealthChecker(observability.NewHealthChecker(cfg.Plugins.Dir, app.RedisClient(), Version)),
	}
	if cfg.Observability.MetricsEnabled {
		serverOpts = append(serverOpts, api.WithMetrics(app.Metrics, app.PromRegistry))
	}

	var scheduler *lifecycle.Scheduler
	if cfg.Updates.Enabled {
		scheduler, err = lifecycle.NewScheduler(app.Orchestrator, cfg.Updates.Schedule, 0, log)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, api.WithScheduler(scheduler))
	}

	var watcher *plugins.Watcher
	watchCtx, stopWatching := context.WithCancel(context.Background())
	defer stopWatching()
	if cfg.Plugins.Watch {
		watcher, err = plugins.NewWatcher(app.Orchestrator.Loader(), log)
		if err != nil {
			return err
		}
		go watcher.Run(watchCtx)
	}

	server := api.NewServer(app.Orchestrator, app.Registry, app.Resolver, log, serverOpts...)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout)
	if scheduler != nil {
		shutdown.RegisterShutdownFunc(scheduler.Stop)
	}
	if watcher != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			stopWatching()
			return watcher.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	if scheduler != nil {
		scheduler.Start()
	}

	done := make(chan error, 1)
	go func() {
		done <- shutdown.WaitForShutdown()
	}()

	log.Infof("Serving plugin management API on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}

// splitAddr accepts host:port or a bare :port
func splitAddr(addr string) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
