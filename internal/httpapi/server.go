package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/pulserank/pulserank/internal/config"
	"github.com/pulserank/pulserank/internal/metrics"
)

// EngineStatus is the read-only view of the engine exposed over HTTP.
type EngineStatus struct {
	Healthy          bool      `json:"healthy"`
	LastRunID        string    `json:"last_run_id,omitempty"`
	LastRunAt        time.Time `json:"last_run_at,omitempty"`
	LastDuration     string    `json:"last_duration,omitempty"`
	LastFallback     bool      `json:"last_fallback"`
	CyclesRun        uint64    `json:"cycles_run"`
	MonitoringBriefs int       `json:"monitoring_briefs"`
	RewardBriefs     int       `json:"reward_briefs"`
	VectorSum        float64   `json:"vector_sum"`
	NextCycleAt      time.Time `json:"next_cycle_at,omitempty"`
}

// StatusProvider reports current engine state to the HTTP surface.
type StatusProvider interface {
	Status() EngineStatus
}

// StatusFunc adapts a function into a StatusProvider.
type StatusFunc func() EngineStatus

func (f StatusFunc) Status() EngineStatus { return f() }

// Server is the local read-only HTTP surface: health, status, metrics and
// the event stream. It never mutates engine state.
type Server struct {
	cfg     config.ServerConfig
	router  *mux.Router
	server  *http.Server
	status  StatusProvider
	metrics *metrics.Registry
	events  *EventHub
	started time.Time
}

// NewServer builds the surface around a status provider and the metrics
// registry. status may be nil before the scheduler is wired.
func NewServer(cfg config.ServerConfig, status StatusProvider, reg *metrics.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		status:  status,
		metrics: reg,
		events:  NewEventHub(),
		started: time.Now(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.router,
		ReadTimeout: cfg.ReadTimeout,
		// No write timeout: the event stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Events exposes the hub so the scheduler can publish cycle events.
func (s *Server) Events() *EventHub { return s.events }

// Router returns the handler, for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.events.handleSubscribe)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http surface listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and closes the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http surface shutting down")
	s.events.Close()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	UptimeSec float64   `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if s.status != nil {
		healthy = s.status.Status().Healthy
	}
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:    status,
		Healthy:   healthy,
		UptimeSec: time.Since(s.started).Seconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, EngineStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// responseWrapper captures the status code for request logging.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade works under the logging
// middleware.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
