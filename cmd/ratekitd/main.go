/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command ratekitd runs the rate limiting HTTP service with scraping jobs coordinated by the distributed lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	golog "log"
	"time"

	"github.com/acronis/go-ratekit/distlock"
	"github.com/acronis/go-ratekit/httpclient"
	"github.com/acronis/go-ratekit/httpserver"
	"github.com/acronis/go-ratekit/httpserver/middleware"
	"github.com/acronis/go-ratekit/internal/api"
	"github.com/acronis/go-ratekit/kvstore"
	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/monitoring"
	"github.com/acronis/go-ratekit/profserver"
	"github.com/acronis/go-ratekit/ratelimit"
	"github.com/acronis/go-ratekit/restapi"
	"github.com/acronis/go-ratekit/scraping"
	"github.com/acronis/go-ratekit/service"
)

const metricsNamespace = "ratekit"

const storeConnectTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "path to the configuration file (YAML or JSON)")
	flag.Parse()
	if err := runApp(*cfgPath); err != nil {
		golog.Fatal(err)
	}
}

func runApp(cfgPath string) error {
	cfg, err := loadAppConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	connectCtx, connectCancel := context.WithTimeout(context.Background(), storeConnectTimeout)
	store, err := kvstore.ConnectWithOpts(connectCtx, cfg.KVStore, logger, kvstore.AdapterOpts{MetricsNamespace: metricsNamespace})
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect to key-value store: %w", err)
	}
	logger.Info("key-value store is ready", log.String("backend", store.Backend()))
	store.MustRegisterMetrics()
	defer store.UnregisterMetrics()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go store.RunMemoryCleanup(cleanupCtx, time.Duration(cfg.KVStore.Memory.CleanupInterval))

	collector := monitoring.NewCollectorWithOpts(logger, cfg.Monitoring.CollectorOpts())

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if limiter, err = makeLimiter(cfg.RateLimit, store, collector, logger); err != nil {
			return err
		}
	}

	restapi.MustInitAndRegisterMetrics(metricsNamespace)
	defer restapi.UnregisterMetrics()

	scrapeManager, err := makeScrapeManager(cfg, store, logger)
	if err != nil {
		return err
	}

	apiOpts := api.Opts{Monitoring: collector, Scraping: scrapeManager}
	srvOpts := httpserver.Opts{
		ErrorDomain:      api.ErrorDomain,
		HealthCheck:      httpserver.NewStoreHealthCheck(store, logger),
		Backend:          store.Backend,
		MetricsNamespace: metricsNamespace,
		RequestRecorder:  collector,
	}
	if limiter != nil {
		apiOpts.Stats = limiter
		srvOpts.RateLimiter = limiter
		srvOpts.RateLimit = middleware.RateLimitOpts{
			ExcludedPaths:  cfg.RateLimit.ExcludedPaths,
			ProtectedPaths: cfg.RateLimit.ProtectedPaths,
		}
	}
	srvOpts.Routes = api.NewRoutes(apiOpts, logger)
	units := []service.Unit{httpserver.New(cfg.Server, logger, srvOpts)}

	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}

	if cfg.Scraping.Schedule.Enabled {
		scheduler := scraping.NewScheduler(scrapeManager, cfg.Scraping.Schedule.Sources, logger)
		units = append(units, scraping.NewSchedulerUnit(
			scheduler, cfg.Scraping.Schedule, time.Duration(cfg.Server.Timeouts.Shutdown), logger))
	}

	return service.NewWithOpts(logger, service.NewCompositeUnit(units...), service.Opts{
		Closers: []io.Closer{scrapeManager, store},
	}).Start()
}

func makeLimiter(
	cfg *ratelimit.Config, store kvstore.Store, collector *monitoring.Collector, logger log.FieldLogger,
) (*ratelimit.Limiter, error) {
	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, fmt.Errorf("make rate limiting rules: %w", err)
	}
	metrics := ratelimit.NewPrometheusMetrics(metricsNamespace)
	metrics.MustRegister()
	limiter, err := ratelimit.NewLimiterWithOpts(rules, store, logger, ratelimit.LimiterOpts{
		LoadSource:       collector,
		MetricsCollector: metrics,
		ErrorLogInterval: time.Duration(cfg.ErrorLogInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return limiter, nil
}

func makeScrapeManager(cfg *AppConfig, store kvstore.Store, logger log.FieldLogger) (*scraping.Manager, error) {
	var runner scraping.Runner
	if cfg.Scraping.ScraperURL != "" {
		clientMetrics := httpclient.NewPrometheusMetricsCollector(metricsNamespace)
		clientMetrics.MustRegister()
		client := httpclient.NewWithOpts(cfg.HTTPClient, httpclient.Opts{
			RequestType: "scraper",
			LoggerProvider: func(ctx context.Context) log.FieldLogger {
				if l := middleware.GetLoggerFromContext(ctx); l != nil {
					return l
				}
				return logger
			},
			MetricsCollector: clientMetrics,
		})
		httpRunner, err := scraping.NewHTTPRunner(cfg.Scraping.ScraperURL, client, logger)
		if err != nil {
			return nil, fmt.Errorf("create scraper client: %w", err)
		}
		runner = httpRunner
	} else {
		runner = scraping.NewLoggingRunner(logger)
	}

	locker := distlock.NewLockerWithOpts(store, logger, distlock.LockerOpts{
		PollInterval: time.Duration(cfg.Lock.PollInterval),
	})
	opts := cfg.Scraping.ManagerOpts(cfg.Lock)
	metrics := scraping.NewPrometheusMetrics(metricsNamespace)
	metrics.MustRegister()
	opts.MetricsCollector = metrics
	return scraping.NewManagerWithOpts(locker, runner, logger, opts), nil
}
