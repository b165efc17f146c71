// Package httpapi serves the reference backend over HTTP: collection
// listing, batch saves, selector group trees and template exports.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"poolcore/internal/core"
	"poolcore/internal/export"
)

const maxBodyBytes = 4 << 20

// MetricsRecorder observes handled requests.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger used for access logs.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records per-route request outcomes.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Server) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithExporter enables the template export routes.
func WithExporter(exp *export.Exporter) Option {
	return func(s *Server) { s.exporter = exp }
}

// WithCORSOrigins restricts cross-origin access. Without origins every
// origin is allowed.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server routes HTTP requests to a core.Service.
type Server struct {
	svc            *core.Service
	exporter       *export.Exporter
	logger         *zap.Logger
	metrics        MetricsRecorder
	metricsHandler http.Handler
	origins        []string
}

// New constructs a Server over svc.
func New(svc *core.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: zap.NewNop(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped with CORS and access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)
	if s.metricsHandler != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(s.metricsHandler)
	}

	api := r.PathPrefix("/api").Subrouter()
	// Selector group trees shadow the generic parented routes.
	api.Methods(http.MethodGet).Path("/selector-groups/{groupId}").HandlerFunc(s.selectorTree)
	api.Methods(http.MethodPost).Path("/selector-groups/{groupId}/batch").HandlerFunc(s.selectorBatch)
	if s.exporter != nil {
		api.Methods(http.MethodPost).Path("/{kind}/export").HandlerFunc(s.exportCollection)
		api.Methods(http.MethodPost).Path("/{kind}/{parentId}/export").HandlerFunc(s.exportCollection)
	}
	api.Methods(http.MethodGet).Path("/{kind}").HandlerFunc(s.listCollection)
	api.Methods(http.MethodPost).Path("/{kind}/batch").HandlerFunc(s.applyBatch)
	api.Methods(http.MethodGet).Path("/{kind}/{parentId}").HandlerFunc(s.listCollection)
	api.Methods(http.MethodPost).Path("/{kind}/{parentId}/batch").HandlerFunc(s.applyBatch)

	return s.cors().Handler(r)
}

func (s *Server) cors() *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}
	if len(s.origins) == 0 {
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = s.origins
	}
	return cors.New(opts)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.Observe(r.Context(), "http."+r.Method+" "+route, m.Code < http.StatusInternalServerError, m.Duration)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("duration", m.Duration),
		}
		if m.Code >= http.StatusInternalServerError {
			s.logger.Error("request failed", fields...)
			return
		}
		s.logger.Info("handled", fields...)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"revision": s.svc.Store().Revision(),
	})
}
