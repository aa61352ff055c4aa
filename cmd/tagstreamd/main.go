package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/bitechdev/tagstream/pkg/cache"
	"github.com/bitechdev/tagstream/pkg/config"
	"github.com/bitechdev/tagstream/pkg/errortracking"
	"github.com/bitechdev/tagstream/pkg/fanout"
	"github.com/bitechdev/tagstream/pkg/ingest"
	"github.com/bitechdev/tagstream/pkg/livefeed"
	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/metrics"
	"github.com/bitechdev/tagstream/pkg/middleware"
	"github.com/bitechdev/tagstream/pkg/security"
	"github.com/bitechdev/tagstream/pkg/server"
	"github.com/bitechdev/tagstream/pkg/session"
	"github.com/bitechdev/tagstream/pkg/store"
	"github.com/bitechdev/tagstream/pkg/tracing"
)

func main() {
	configFile := flag.String("config", "", "path to a tagstream.yaml config file")
	flag.Parse()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfgMgr := config.NewManagerWithOptions(opts...)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	defer logger.Sync()

	if used := cfgMgr.ConfigFileUsed(); used != "" {
		logger.Info("Configuration loaded from %s", used)
	}

	if err := run(context.Background(), cfg); err != nil {
		logger.Error("tagstreamd failed: %v", err)
		_ = logger.CloseErrorTracking()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	started := time.Now()

	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		return fmt.Errorf("error tracking: %w", err)
	}
	logger.InitErrorTracking(tracker)
	defer func() { _ = logger.CloseErrorTracking() }()

	var prom *metrics.PrometheusProvider
	if cfg.Metrics.Enabled && cfg.Metrics.Provider == "prometheus" {
		prom = metrics.NewPrometheusProvider(&metrics.Config{Namespace: cfg.Metrics.Namespace})
		metrics.SetProvider(prom)
	}

	stopTracing, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(sctx); err != nil {
			logger.Warn("Tracer shutdown: %v", err)
		}
	}()

	// Fan-out core
	registry := fanout.NewRegistry(fanout.Options{
		QueueCapacity: cfg.Fanout.QueueCapacity,
		BatchSize:     cfg.Fanout.BatchSize,
		DropPolicy:    fanout.DropPolicy(cfg.Fanout.DropPolicy),
	})
	dispatcher := fanout.NewDispatcher(registry, cfg.Ingest.QueueSize)
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	source, err := ingest.NewSource(cfg.Ingest)
	if err != nil {
		return err
	}
	consumer := ingest.NewConsumer(source, dispatcher, ingest.Options{
		MaxRetries: cfg.Ingest.MaxRetries,
		RetryDelay: cfg.Ingest.RetryDelay,
	})

	// Collaborators for live sessions
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	historyCache, err := cache.NewFromConfig(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = historyCache.Close() }()

	auth, err := security.NewJWTAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	sessions := session.NewManager()
	svc := livefeed.NewService(auth, registry, sessions, st,
		store.NewCachedHistory(st, historyCache, cfg.Cache.TTL),
		livefeed.Options{PollTimeout: cfg.Session.PollTimeout, QueueCapacity: cfg.Fanout.QueueCapacity})
	feeds := livefeed.NewHandler(svc, session.WebSocketOptions{
		WriteTimeout: cfg.Session.WriteTimeout,
		PingInterval: cfg.Session.PingInterval,
		PongWait:     cfg.Session.PongWait,
	})

	// HTTP surface
	r := mux.NewRouter()
	r.Use(middleware.PanicRecovery)
	if prom != nil {
		r.Use(prom.Middleware(routeTemplate))
	}
	r.Use(tracing.Middleware)

	ws := r.NewRoute().Subrouter()
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiterFromConfig(cfg.RateLimit)
		defer limiter.Stop()
		ws.Use(limiter.Middleware)
	}
	feeds.RegisterRoutes(ws)

	ready := func() error {
		if consumer.State() == ingest.StateFailed {
			return fmt.Errorf("broker consumer failed: %v", consumer.Err())
		}
		return nil
	}
	gs := server.NewGracefulServer(server.FromServerConfig(cfg.Server, r, ready))

	r.Handle("/health", gs.HealthCheckHandler()).Methods(http.MethodGet)
	r.Handle("/ready", gs.ReadinessHandler()).Methods(http.MethodGet)
	r.Handle("/api/v1/stats", statsHandler(consumer, dispatcher, sessions, historyCache, started)).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, metrics.GetProvider().Handler())
	}

	gs.RegisterShutdownCallback(func(context.Context) error {
		n := sessions.CloseAll(session.CloseGoingAway, "Server shutting down")
		logger.Info("Closed %d live sessions", n)
		return nil
	})
	gs.RegisterShutdownCallback(func(context.Context) error {
		if _, err := consumer.Stop(); err != nil && !errors.Is(err, ingest.ErrNotRunning) {
			return err
		}
		return nil
	})
	gs.RegisterShutdownCallback(func(context.Context) error {
		dispatcher.Stop()
		return nil
	})

	go startConsumer(ctx, consumer)

	return gs.ListenAndServe(ctx)
}

// startConsumer connects to the broker in the background. A failed consumer
// leaves the HTTP surface up; /ready and /api/v1/stats report it.
func startConsumer(ctx context.Context, consumer *ingest.Consumer) {
	ok, err := consumer.Start(ctx)
	if !ok {
		logger.Error("[Ingest] Broker consumer did not start: %v", err)
		return
	}

	<-consumer.Done()
	if err := consumer.Err(); err != nil {
		logger.Error("[Ingest] Broker consumer failed: %v", err)
	}
}

// routeTemplate keeps metric labels to the registered route patterns
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
