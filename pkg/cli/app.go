package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/ledmatrix/pkg/async"
	"github.com/platinummonkey/ledmatrix/pkg/config"
	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/installer"
	"github.com/platinummonkey/ledmatrix/pkg/lifecycle"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App holds the components every command works with
type App struct {
	Config       *config.Config
	Log          *logrus.Logger
	Registry     *marketplace.Client
	Resolver     *marketplace.Resolver
	Orchestrator *lifecycle.Orchestrator
	Metrics      *observability.Metrics
	PromRegistry *prometheus.Registry

	redis *marketplace.RedisStore
}

// NewApp wires the registry client, resolver, installer, loader and
// orchestrator from cfg
func NewApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	async.SetLogger(log)

	if err := os.MkdirAll(cfg.Plugins.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugins directory: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	policy := httputil.NewRetryPolicy(httputil.RetryConfig{
		MaxAttempts: cfg.Registry.RetryAttempts,
		Delay:       cfg.Registry.RetryDelay,
	})
	token := cfg.Secrets.GitHubToken

	// only the API fetcher carries the token; raw files and archives are public
	apiFetcher := httputil.NewFetcher(httputil.NewClient(ctx, token), policy, cfg.Registry.MetadataTimeout, log)
	rawFetcher := httputil.NewFetcher(nil, policy, cfg.Registry.MetadataTimeout, log)
	archiveFetcher := httputil.NewFetcher(nil, policy, cfg.Registry.ArchiveTimeout, log)
	for _, f := range []*httputil.Fetcher{apiFetcher, rawFetcher, archiveFetcher} {
		f.OnRetry = func(url string, attempt int, err error) {
			metrics.RecordRetry(string(plugins.KindOf(err)))
		}
	}

	host := marketplace.NewRepoHost(marketplace.HostConfig{
		APIBase: cfg.Registry.APIBase,
		RawBase: cfg.Registry.RawBase,
		WebBase: cfg.Registry.WebBase,
	}, apiFetcher, rawFetcher, token != "", log)

	app := &App{
		Config:       cfg,
		Log:          log,
		Metrics:      metrics,
		PromRegistry: promRegistry,
	}

	var store marketplace.IndexStore = marketplace.NewMemoryStore(0, cfg.Registry.CacheTTL)
	if cfg.Registry.RedisURL != "" {
		redisStore, err := marketplace.NewRedisStore(cfg.Registry.RedisURL, cfg.Registry.CacheTTL)
		if err != nil {
			log.Warnf("Registry cache unavailable, using in-process cache: %v", err)
		} else {
			store = redisStore
			app.redis = redisStore
		}
	}

	app.Registry = marketplace.NewClient(cfg.Registry.URL, rawFetcher, host, log,
		marketplace.WithCustomRegistries(cfg.Registry.CustomRegistries...),
		marketplace.WithIndexStore(store),
	)
	app.Registry.OnFetch = func(source string, ok bool) {
		if source != marketplace.OfficialSource {
			source = "custom"
		}
		status := "ok"
		if !ok {
			status = "failed"
		}
		metrics.RecordRegistryFetch(source, status)
	}
	app.Resolver = marketplace.NewResolver(host, log)

	inst := installer.New(host, archiveFetcher, log,
		installer.WithGit(installer.NewExecGit()),
		installer.WithCheckouts(cfg.Plugins.UseGit),
	)
	deps := plugins.NewDependencyInstaller(log,
		plugins.WithDependencyTool(cfg.Plugins.DependencyTool),
		plugins.WithDependencyTimeout(cfg.Plugins.DependencyTimeout),
	)

	app.Orchestrator = lifecycle.New(app.Registry, app.Resolver, inst, plugins.NewLoader(cfg.Plugins.Dir, log), log,
		lifecycle.WithMetrics(metrics),
		lifecycle.WithDependencyInstaller(deps),
		lifecycle.WithUpdateConcurrency(cfg.Updates.Concurrency),
		lifecycle.WithUpdateTimeout(cfg.Updates.Timeout),
	)

	return app, nil
}

// RedisClient returns the registry cache connection, or nil when indexes are
// cached in process
func (a *App) RedisClient() *redis.Client {
	if a.redis == nil {
		return nil
	}
	return a.redis.Client()
}

// Close releases the registry cache connection
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
