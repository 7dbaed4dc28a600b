// Package main is the entry point for the pricing engine: a background
// enrichment/competitor/index worker system fronted by a small HTTP API
// (spec.md §1). It wires configuration, the SQLite-backed store and
// queue, the worker pool, the cron scheduler, and the HTTP surface, then
// blocks until SIGINT/SIGTERM triggers a graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jengu/pricing-core/internal/auth"
	"github.com/jengu/pricing-core/internal/bus"
	"github.com/jengu/pricing-core/internal/cache"
	"github.com/jengu/pricing-core/internal/competitor"
	"github.com/jengu/pricing-core/internal/config"
	"github.com/jengu/pricing-core/internal/database"
	"github.com/jengu/pricing-core/internal/enrichment"
	"github.com/jengu/pricing-core/internal/fetchers"
	"github.com/jengu/pricing-core/internal/geocode"
	"github.com/jengu/pricing-core/internal/index"
	"github.com/jengu/pricing-core/internal/jobs"
	"github.com/jengu/pricing-core/internal/logging"
	"github.com/jengu/pricing-core/internal/metrics"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/ratelimit"
	"github.com/jengu/pricing-core/internal/scheduler"
	"github.com/jengu/pricing-core/internal/server"
	"github.com/jengu/pricing-core/internal/storage/s3backup"
	"github.com/jengu/pricing-core/internal/store"
	"github.com/jengu/pricing-core/internal/worker"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logging.New(logging.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	logging.SetGlobalLogger(log)
	log.Info().Msg("starting pricing engine")

	db, err := database.New(database.Config{Path: cfg.DatabasePath})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Str("path", cfg.DatabasePath).Msg("database ready")

	properties := store.NewPropertyRepository(db.Conn())
	rows := store.NewPricingRowRepository(db.Conn())
	graph := store.NewCompetitorGraphRepository(db.Conn())
	authRepo := auth.NewRepository(db.Conn())

	metric := metrics.New()

	var mirror s3backup.Mirror
	if cfg.S3Enabled() {
		s3Client, err := s3backup.New(context.Background(), s3backup.Config{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize S3 mirror, continuing without it")
		} else {
			mirror = s3Client
			log.Info().Str("bucket", cfg.S3Bucket).Msg("S3 cache mirror enabled")
		}
	}

	memo, err := cache.New(cache.Config{
		DB:      db.Conn(),
		Mirror:  mirror,
		Metrics: metric,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cache")
	}

	fetcherCfg := fetchers.Config{Timeout: cfg.FetcherTimeout}
	weatherClient := fetchers.NewWeatherClient(fetcherCfg, logging.Component(log, "weather"))
	var holidayClient *fetchers.HolidayClient
	if cfg.HolidaysEnabled {
		holidayClient = fetchers.NewHolidayClient(fetcherCfg, logging.Component(log, "holiday"))
	}

	q := queue.NewStore(db)
	evBus := bus.New()

	pipeline := &enrichment.Pipeline{
		Properties:    properties,
		Rows:          rows,
		Cache:         memo,
		Weather:       weatherClient,
		Holiday:       holidayClient,
		Geocoder:      geocode.Unconfigured{},
		Queue:         q,
		AutoAnalytics: cfg.EnableAutoAnalytics,
		Log:           logging.Component(log, "enrichment"),
	}

	indexEngine := index.NewEngine(graph)

	scraper := &competitor.Scraper{
		Source: competitor.Unconfigured{},
		Graph:  graph,
	}

	registrar := &jobs.Registrar{
		Properties: properties,
		Rows:       rows,
		Pipeline:   pipeline,
		Scraper:    scraper,
		IndexEng:   indexEngine,
		Log:        logging.Component(log, "jobs"),
	}

	pool := worker.New(q, evBus, worker.Config{
		Queues: []worker.QueueConfig{
			{Name: queue.QueueEnrichment, Concurrency: cfg.EnrichmentWorkerConcurrency},
			{Name: queue.QueueCompetitor, Concurrency: cfg.CompetitorWorkerConcurrency},
			{Name: queue.QueueAnalytics, Concurrency: cfg.AnalyticsWorkerConcurrency},
		},
		JobTimeout:    cfg.JobTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
	}, logging.Component(log, "worker"), metric)
	registrar.Register(pool)

	sched := scheduler.New(q, logging.Component(log, "scheduler"))

	var authenticator auth.RequestAuthenticator
	if cfg.SessionJWTSecret != "" {
		keyAuth := auth.New(authRepo, authRepo, logging.Component(log, "auth"))
		sessionAuth := auth.NewSessionAuthenticator(cfg.SessionJWTSecret)
		authenticator = auth.NewFlexibleAuthenticator(keyAuth, sessionAuth)
		log.Info().Msg("API key + session authentication enabled")
	} else {
		log.Warn().Msg("SESSION_JWT_SECRET not set, running without authentication")
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		limiter = ratelimit.NewRedisLimiter(redis.NewClient(opts))
		log.Info().Msg("redis rate limiter enabled")
	default:
		limiter = ratelimit.NewMemoryLimiter()
	}
	limits := ratelimit.Limits{
		PerMinute: cfg.MaxRequestsPerMinute,
		PerHour:   cfg.MaxRequestsPerMinute * 60,
		PerDay:    cfg.MaxRequestsPerMinute * 60 * 24,
	}

	srv := server.New(server.Config{
		Log:         log,
		DB:          db,
		Properties:  properties,
		Rows:        rows,
		Graph:       graph,
		IndexEng:    indexEngine,
		Queue:       q,
		Bus:         evBus,
		Auth:        authenticator,
		RateLimiter: limiter,
		RateLimits:  limits,
		Metrics:     metric,
		Port:        cfg.Port,
		FrontendURL: cfg.FrontendURL,
		DevMode:     getEnv("DEV_MODE", "false") == "true",
		Version:     getEnv("VERSION", "dev"),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("HTTP server started")

	pool.Start()
	log.Info().Msg("worker pool started")

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	sched.Stop()
	log.Info().Msg("scheduler stopped")

	pool.Stop()
	log.Info().Msg("worker pool stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("pricing engine stopped")
}
