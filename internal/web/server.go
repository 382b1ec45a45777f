// Package web serves the harvester's JSON API: file inspection, on-demand
// exports and harvest control.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/cycler/internal/config"
	"github.com/JonMunkholm/cycler/internal/core"
	"github.com/JonMunkholm/cycler/internal/harvester"
	"github.com/JonMunkholm/cycler/internal/web/middleware"
)

// Harvester is the harvest control surface the API exposes.
type Harvester interface {
	RunPass(ctx context.Context) (harvester.PassResult, error)
	Status(ctx context.Context) (harvester.Status, error)
	Overrides(path string) core.Overrides
	Roots() []string
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	harvester Harvester
	limiter   *core.Limiter
	db        Pinger
	roots     []string
	router    *chi.Mux
	server    *http.Server

	// baseCtx outlives requests; background passes started over HTTP use it.
	baseCtx context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
}

// NewServer wires routes and middleware. db may be nil.
func NewServer(cfg *config.Config, h Harvester, limiter *core.Limiter, db Pinger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		harvester: h,
		limiter:   limiter,
		db:        db,
		roots:     resolveRoots(h.Roots()),
		router:    chi.NewRouter(),
		baseCtx:   ctx,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		rl := middleware.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst)
		go rl.Cleanup(s.stop)
		s.router.Use(rl.Middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Streaming responses are not bounded by the request timeout.
		r.Get("/export", s.handleExport)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
			}
			r.Get("/files/identify", s.handleIdentify)
			r.Get("/files/metadata", s.handleMetadata)
			r.Get("/files/labels", s.handleLabels)

			r.Post("/harvest", s.handleHarvest)
			r.Get("/harvest/status", s.handleHarvestStatus)
		})
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
	slog.Info("http server listening", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// securityHeaders sets headers appropriate for a JSON-only API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON. Encoding errors are logged since headers
// are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
