// Package server exposes the telemetry core over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slowmonitor/internal/history"
	"slowmonitor/internal/metrics"
	"slowmonitor/internal/models"
)

const (
	defaultPushInterval = 5 * time.Second
	timelineWindow      = 5 * time.Minute
	maxTimelinePoints   = 500
)

// Source is the telemetry core as seen from HTTP handlers. *monitor.Monitor
// satisfies it.
type Source interface {
	Snapshot(ctx context.Context) (models.Snapshot, error)
	Clear(ctx context.Context) error
	Watch(ctx context.Context, fn func(models.SlowdownEvent)) (unsubscribe func(), err error)
}

// Options tunes the server.
type Options struct {
	// PushInterval is the periodic websocket refresh.
	PushInterval time.Duration
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server wraps HTTP serving of the telemetry API.
type Server struct {
	httpServer   *http.Server
	source       Source
	pushInterval time.Duration
	logger       *zap.Logger
}

// New creates a configured HTTP server for the monitor.
func New(addr string, source Source, opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = defaultPushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		source:       source,
		pushInterval: opts.PushInterval,
		logger:       opts.Logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(opts.Gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic. A graceful shutdown is not an error.
func (s *Server) Run() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Delete("/events", s.handleClear)
		r.Get("/interactions", s.handleInteractions)
		r.Get("/status", s.handleStatus)
		r.Get("/summary", s.handleSummary)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/stream", s.handleStream)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (models.Snapshot, bool) {
	snap, err := s.source.Snapshot(r.Context())
	if err != nil {
		s.logger.Warn("snapshot unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return models.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(snap.Events))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.source.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(snap.Interactions))
}

type statusResponse struct {
	Status      models.InteractionStatus `json:"status"`
	FPS         int                      `json:"fps"`
	Channels    map[string]int           `json:"channels"`
	GeneratedAt time.Time                `json:"generated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	channels := snap.Channels
	if channels == nil {
		channels = map[string]int{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      snap.Status,
		FPS:         snap.FPS,
		Channels:    channels,
		GeneratedAt: snap.GeneratedAt,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, metrics.ComputeSummary(snap.Events))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	points := parsePoints(r, history.DefaultTimelinePoints)
	end := snap.GeneratedAt
	writeJSON(w, http.StatusOK, history.BuildTimeline(snap.Events, end.Add(-timelineWindow), end, points))
}

func parsePoints(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("points")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > maxTimelinePoints {
		return maxTimelinePoints
	}
	return value
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
