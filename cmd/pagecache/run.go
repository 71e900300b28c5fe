package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/app"
	"github.com/eugener/pagecache/internal/auth"
	"github.com/eugener/pagecache/internal/cache"
	"github.com/eugener/pagecache/internal/config"
	"github.com/eugener/pagecache/internal/origin"
	"github.com/eugener/pagecache/internal/policy"
	"github.com/eugener/pagecache/internal/ratelimit"
	"github.com/eugener/pagecache/internal/readthrough"
	"github.com/eugener/pagecache/internal/server"
	"github.com/eugener/pagecache/internal/storage/sqlite"
	"github.com/eugener/pagecache/internal/telemetry"
	"github.com/eugener/pagecache/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	slog.Info("starting pagecache", "version", version, "addr", cfg.Server.Addr, "origin", cfg.Origin.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, "pagecache", cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Open database
	store, err := sqlite.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	var workers []worker.Worker

	// Cache backend
	backend, sweeper, closeBackend, err := openBackend(cfg.Cache, store)
	if err != nil {
		return err
	}
	defer closeBackend()
	if sweeper != nil {
		workers = append(workers, worker.NewCacheSweeper(sweeper, cfg.Cache.SweepInterval))
	}
	cacheStore := cache.NewStore(backend, cache.StoreOptions{
		Name:      cfg.Cache.Backend,
		OpTimeout: cfg.Cache.OpTimeout,
		Metrics:   metrics,
	})

	// Cacheability policy
	rules, err := policy.NewRules(cfg.Cookies.Personalization, cfg.Cookies.Generic)
	if err != nil {
		return err
	}
	cookieLog := ratelimit.NewThrottle(cfg.Cookies.UnknownWarnPerMin)

	// Analytics
	rtDeps := readthrough.Deps{
		Policy:           policy.New(rules),
		Store:            cacheStore,
		Metrics:          metrics,
		UnknownCookieLog: cookieLog,
	}
	var analytics server.AnalyticsStore
	if cfg.Analytics.Enabled {
		recorder := worker.NewPageViewRecorder(store, metrics)
		rtDeps.Analytics = recorder
		analytics = store
		workers = append(workers, recorder, worker.NewPageViewRollupWorker(store))
	}

	mw := readthrough.New(rtDeps, readthrough.Options{
		Enabled:      cfg.Cache.Enabled,
		Lifetime:     cfg.Cache.Lifetime(),
		CacheControl: cfg.Cache.CacheControl,
		SingleFlight: cfg.Cache.SingleFlight,
	})

	// Privilege oracle and admin auth
	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}
	authenticators := []pagecache.Authenticator{apiKeyAuth}
	switch secret := cfg.Auth.JWT.Secret; {
	case strings.Contains(secret, "${"):
		slog.Warn("jwt secret references an unset variable, jwt auth disabled")
	case secret != "":
		jwtAuth, err := auth.NewJWTAuth(auth.JWTConfig{
			Secret:     []byte(secret),
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			RolesClaim: cfg.Auth.JWT.RolesClaim,
			Leeway:     cfg.Auth.JWT.Leeway,
		})
		if err != nil {
			return err
		}
		authenticators = append(authenticators, jwtAuth)
	}
	oracle := auth.NewOracle(authenticators...)

	// Origin
	var transport http.RoundTripper
	if cfg.Origin.DNSCache {
		resolver := &dnscache.Resolver{}
		transport = origin.NewTransport(resolver)
		workers = append(workers, worker.NewDNSRefresher(resolver, cfg.Origin.DNSRefresh))
	} else {
		transport = origin.NewTransport(nil)
	}
	client, err := origin.NewClient(ctx, transport, origin.AuthConfig{
		Type:         cfg.Origin.Auth.Type,
		Token:        cfg.Origin.Auth.Token,
		ClientID:     cfg.Origin.Auth.ClientID,
		ClientSecret: cfg.Origin.Auth.ClientSecret,
		TokenURL:     cfg.Origin.Auth.TokenURL,
		Scopes:       cfg.Origin.Auth.Scopes,
	}, cfg.Origin.Timeout)
	if err != nil {
		return err
	}
	upstream, err := origin.New(origin.Config{
		BaseURL: cfg.Origin.BaseURL,
		Client:  client,
		Metrics: metrics,
		MaxBody: cfg.Origin.MaxBody,
	})
	if err != nil {
		return err
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Auth:   oracle,
		Oracle: oracle,
		Cache:  mw,
		Origin: upstream,
		Capture: readthrough.CaptureOptions{
			TagHeader: cfg.Origin.AnalyticsTagHeader,
			Tag:       origin.JSONTag(cfg.Origin.AnalyticsTagPath),
			MaxBody:   cfg.Origin.MaxBody,
		},
		CacheStatus:    cacheStore,
		Analytics:      analytics,
		Keys:           app.NewKeyManager(store, apiKeyAuth),
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers stop when ctx is cancelled and drain on the way out.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	workersDone := make(chan error, 1)
	go func() { workersDone <- worker.NewRunner(workers...).Run(workerCtx) }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("pagecache ready", "addr", cfg.Server.Addr, "backend", cfg.Cache.Backend, "cache_enabled", cfg.Cache.Enabled)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		runErr = err
	case err := <-workersDone:
		runErr = fmt.Errorf("worker stopped: %w", err)
	}

	// Shutdown: stop accepting requests first so in-flight page views reach
	// the recorder before it drains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	cancelWorkers()
	if runErr == nil {
		if err := <-workersDone; err != nil {
			runErr = err
		}
	}

	slog.Info("pagecache stopped")
	return runErr
}

// openBackend creates the configured cache backend. sweeper is nil for
// backends that evict on their own.
func openBackend(cfg config.CacheConfig, store *sqlite.Store) (cache.Backend, cache.Sweeper, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendSQLite:
		pc := store.PageCache()
		return pc, pc, noop, nil
	case config.BackendLevelDB:
		ldb, err := cache.OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return ldb, ldb, func() {
			if err := ldb.Close(); err != nil {
				slog.Warn("close leveldb", "error", err)
			}
		}, nil
	default:
		mem, err := cache.NewMemory(cfg.MaxSize, cfg.Lifetime())
		if err != nil {
			return nil, nil, nil, err
		}
		return mem, nil, noop, nil
	}
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
