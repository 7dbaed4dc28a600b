// Package server provides the external HTTP surface of the pricing
// engine: enrichment control, neighborhood-index reads, progress
// streaming, and the informational health/version endpoints (spec.md
// §6.1).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/auth"
	"github.com/jengu/pricing-core/internal/bus"
	"github.com/jengu/pricing-core/internal/database"
	"github.com/jengu/pricing-core/internal/index"
	"github.com/jengu/pricing-core/internal/metrics"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/ratelimit"
	"github.com/jengu/pricing-core/internal/store"
)

// Config holds everything the HTTP surface needs to wire its routes to
// the rest of the engine.
type Config struct {
	Log zerolog.Logger

	DB         *database.DB
	Properties *store.PropertyRepository
	Rows       *store.PricingRowRepository
	Graph      *store.CompetitorGraphRepository
	IndexEng   *index.Engine

	Queue queue.Queue
	Bus   *bus.Bus

	Auth        auth.RequestAuthenticator
	RateLimiter ratelimit.Limiter
	RateLimits  ratelimit.Limits

	Metrics *metrics.Registry

	Port        int
	FrontendURL string
	DevMode     bool

	Version string
}

// Server is the pricing engine's HTTP surface.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	db         *database.DB
	properties *store.PropertyRepository
	rows       *store.PricingRowRepository
	graph      *store.CompetitorGraphRepository
	indexEng   *index.Engine
	queue      queue.Queue
	bus        *bus.Bus
	metric     *metrics.Registry
	version    string
	startedAt  time.Time
}

// New constructs the Server and wires its routes; it does not start
// listening until Start is called.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		db:         cfg.DB,
		properties: cfg.Properties,
		rows:       cfg.Rows,
		graph:      cfg.Graph,
		indexEng:   cfg.IndexEng,
		queue:      cfg.Queue,
		bus:        cfg.Bus,
		metric:     cfg.Metrics,
		version:    cfg.Version,
		startedAt:  time.Now(),
	}

	s.setupMiddleware(cfg)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // SSE connections stay open longer than a typical request
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.metric != nil {
		s.router.Use(s.metric.HTTPMiddleware("http"))
	}

	origin := cfg.FrontendURL
	if origin == "" {
		origin = "*"
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit-Minute", "X-RateLimit-Remaining-Minute"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}

	if cfg.RateLimiter != nil {
		keyFn := func(r *http.Request) string {
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				return "key:" + p.KeyID
			}
			return "ip:" + r.RemoteAddr
		}
		s.router.Use(ratelimit.Middleware(cfg.RateLimiter, cfg.RateLimits, keyFn, s.log))
	}
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.Get("/live", s.handleLive)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/version", s.handleVersion)

	if s.metric != nil {
		s.router.Handle("/metrics", metrics.Handler())
	}

	s.router.Route("/enrichment", func(r chi.Router) {
		if cfg.Auth != nil {
			r.With(auth.RequireScope(cfg.Auth, "enrichment:write")).Post("/start", s.handleStartEnrichment)
			r.With(auth.RequireScope(cfg.Auth, "enrichment:read")).Get("/status/{id}", s.handleEnrichmentStatus)
			r.With(auth.RequireScope(cfg.Auth, "enrichment:read")).Get("/status/{id}/stream", s.handleEnrichmentStream)
			r.With(auth.RequireScope(cfg.Auth, "enrichment:read")).Get("/status/{id}/ws", s.handleEnrichmentWS)
		} else {
			r.Post("/start", s.handleStartEnrichment)
			r.Get("/status/{id}", s.handleEnrichmentStatus)
			r.Get("/status/{id}/stream", s.handleEnrichmentStream)
			r.Get("/status/{id}/ws", s.handleEnrichmentWS)
		}
	})

	s.router.Route("/neighborhood-index", func(r chi.Router) {
		readR := r
		if cfg.Auth != nil {
			readR = r.With(auth.RequireScope(cfg.Auth, "index:read"))
		}
		readR.Get("/{property_id}/latest", s.handleIndexLatest)
		readR.Get("/{property_id}/trend", s.handleIndexTrend)

		if cfg.Auth != nil {
			r.With(auth.RequireScope(cfg.Auth, "index:write")).Post("/{property_id}/recompute", s.handleIndexRecompute)
		} else {
			r.Post("/{property_id}/recompute", s.handleIndexRecompute)
		}
	})
}

// Start begins serving; it blocks until Shutdown is called or the
// listener errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
