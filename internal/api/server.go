package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/config"
	"github.com/snapradar/archive-crawler/internal/dispatcher"
	"github.com/snapradar/archive-crawler/internal/metrics"
	"github.com/snapradar/archive-crawler/internal/storage/postgres"
)

// SourceAdmin exposes router state to the ops endpoints.
type SourceAdmin interface {
	HealthStatus() []archive.SourceHealth
	PerformanceMetrics() []archive.SourcePerformance
	ResetBreaker(src archive.Source) bool
}

// EventReader serves persisted progress events. Nil when no database is
// configured.
type EventReader interface {
	ListEvents(ctx context.Context, jobID string, limit, offset int) ([]postgres.EventRecord, error)
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	contents archive.ContentStore
	dispatch *dispatcher.Dispatcher
	sources  SourceAdmin
	events   EventReader
	ids      archive.IDGenerator
	clock    archive.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. registry backs
// the /metrics endpoint; events may be nil.
func NewServer(
	contents archive.ContentStore,
	dispatch *dispatcher.Dispatcher,
	sources SourceAdmin,
	events EventReader,
	ids archive.IDGenerator,
	clock archive.Clock,
	cfg config.Config,
	registry *prometheus.Registry,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		contents: contents,
		dispatch: dispatch,
		sources:  sources,
		events:   events,
		ids:      ids,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	httpMetrics, err := metrics.NewHTTP(registry)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(httpMetrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/events", s.getJobEvents)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/health", s.sourceHealth)
			r.Get("/performance", s.sourcePerformance)
		})
		r.Post("/admin/sources/{source}/reset", s.resetBreaker)
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) sourceHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": s.sources.HealthStatus()})
}

func (s *Server) sourcePerformance(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": s.sources.PerformanceMetrics()})
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	src := archive.Source(chi.URLParam(r, "source"))
	if !s.sources.ResetBreaker(src) {
		s.writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	s.logger.Info("breaker reset via api", zap.String("source", string(src)))
	s.writeJSON(w, http.StatusOK, map[string]string{"source": string(src), "circuit_state": "closed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

var errNoEventStore = errors.New("event history requires a configured database")
