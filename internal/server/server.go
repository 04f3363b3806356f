// Package server provides the HTTP API for TailChase: analysis results,
// location sessions, report export, and GPS ingest.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/probe"
	"github.com/tailchase/tailchase/internal/version"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// Analyzer exposes detection results to the API. Satisfied by
// *detect.Detector.
type Analyzer interface {
	Analyze() []models.SuspiciousDevice
	Stats() detect.Stats
	Report(now time.Time) string
}

// Sessions exposes location sessions to the API. Satisfied by
// *geo.SessionManager.
type Sessions interface {
	AddReading(lat, lon float64, ts time.Time, label string) string
	History() []models.LocationSession
	DevicesAcrossSessions() map[string][]string
}

// SessionStore persists sessions as they are updated via the API. May be
// nil to disable persistence.
type SessionStore interface {
	UpsertSession(ctx context.Context, s models.LocationSession) error
}

// ProbeAnalyzer runs the probe-request analysis. May be nil when no
// archive is configured.
type ProbeAnalyzer interface {
	Analyze(ctx context.Context) ([]probe.Result, error)
}

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// RouteRegistrar allows external packages (the websocket hub) to register
// routes on the server without creating import cycles.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the TailChase HTTP server.
type Server struct {
	httpServer *http.Server
	analyzer   Analyzer
	sessions   Sessions
	store      SessionStore
	probes     ProbeAnalyzer
	logger     *zap.Logger
	mux        *http.ServeMux
	ready      ReadinessChecker
}

// New creates a Server with middleware and routes. store and probes may
// be nil.
func New(addr string, analyzer Analyzer, sessions Sessions, store SessionStore,
	probes ProbeAnalyzer, ready ReadinessChecker, logger *zap.Logger,
	extraRoutes ...RouteRegistrar) *Server {
	mux := http.NewServeMux()

	s := &Server{
		analyzer: analyzer,
		sessions: sessions,
		store:    store,
		probes:   probes,
		logger:   logger,
		mux:      mux,
		ready:    ready,
	}

	s.registerRoutes()
	for _, r := range extraRoutes {
		r.RegisterRoutes(mux)
	}

	// Middleware chain: outermost listed first.
	handler := Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, []string{"/healthz", "/readyz", "/metrics"}),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(100, 200, []string{"/healthz", "/readyz", "/metrics"}),
	)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all core routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Versioned API endpoints.
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/analysis", s.handleAnalysis)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/v1/devices/multi-location", s.handleMultiLocation)
	s.mux.HandleFunc("GET /api/v1/report", s.handleReport)
	s.mux.HandleFunc("GET /api/v1/report/kml", s.handleReportKML)
	s.mux.HandleFunc("GET /api/v1/probes", s.handleProbes)
	s.mux.HandleFunc("POST /api/v1/gps", s.handleGPS)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe -- returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "alive"})
}

// handleReadyz checks readiness -- returns 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status" example:"ok"`
	Service string            `json:"service" example:"tailchase"`
	Version map[string]string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status:  "ok",
		Service: "tailchase",
		Version: version.Map(),
	})
}

// AnalysisResponse is the response for GET /api/v1/analysis.
type AnalysisResponse struct {
	Stats   detect.Stats              `json:"stats"`
	Devices []models.SuspiciousDevice `json:"devices"`
}

func (s *Server) handleAnalysis(w http.ResponseWriter, _ *http.Request) {
	devices := s.analyzer.Analyze()
	if devices == nil {
		devices = []models.SuspiciousDevice{}
	}
	writeJSON(w, AnalysisResponse{
		Stats:   s.analyzer.Stats(),
		Devices: devices,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.History()
	if sessions == nil {
		sessions = []models.LocationSession{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleMultiLocation(w http.ResponseWriter, _ *http.Request) {
	multi := s.sessions.DevicesAcrossSessions()
	if multi == nil {
		multi = map[string][]string{}
	}
	writeJSON(w, multi)
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(s.analyzer.Report(time.Now())))
}

func (s *Server) handleReportKML(w http.ResponseWriter, r *http.Request) {
	out, err := geo.ExportKML(s.sessions.History(), s.analyzer.Analyze(), time.Now())
	if err != nil {
		s.logger.Error("kml export failed", zap.Error(err))
		InternalError(w, "kml export failed", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="tailchase.kml"`)
	_, _ = w.Write(out)
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	if s.probes == nil {
		NotFound(w, "probe analysis requires an archive database", r.URL.Path)
		return
	}
	results, err := s.probes.Analyze(r.Context())
	if err != nil {
		s.logger.Error("probe analysis failed", zap.Error(err))
		InternalError(w, "probe analysis failed", r.URL.Path)
		return
	}
	if results == nil {
		results = []probe.Result{}
	}
	writeJSON(w, results)
}

// GPSReadingRequest is the body for POST /api/v1/gps.
type GPSReadingRequest struct {
	Latitude  float64 `json:"latitude" example:"33.4484"`
	Longitude float64 `json:"longitude" example:"-112.0740"`
	Altitude  float64 `json:"altitude,omitempty" example:"331.0"`
	Label     string  `json:"label,omitempty" example:"coffee shop"`
	Timestamp string  `json:"timestamp,omitempty" example:"2026-08-01T12:00:00Z"`
}

// GPSReadingResponse is the response for POST /api/v1/gps.
type GPSReadingResponse struct {
	SessionID string `json:"session_id" example:"coffee_shop"`
}

func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	var req GPSReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	// The NaN checks matter: NaN compares false against any bound.
	if math.IsNaN(req.Latitude) || req.Latitude < -90 || req.Latitude > 90 {
		BadRequest(w, "latitude out of range", r.URL.Path)
		return
	}
	if math.IsNaN(req.Longitude) || req.Longitude < -180 || req.Longitude > 180 {
		BadRequest(w, "longitude out of range", r.URL.Path)
		return
	}

	ts := time.Now()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			BadRequest(w, "timestamp must be RFC 3339", r.URL.Path)
			return
		}
		ts = parsed
	}

	id := s.sessions.AddReading(req.Latitude, req.Longitude, ts, req.Label)

	if s.store != nil {
		for _, sess := range s.sessions.History() {
			if sess.ID != id {
				continue
			}
			if err := s.store.UpsertSession(r.Context(), sess); err != nil {
				s.logger.Warn("persist session failed",
					zap.String("session_id", id),
					zap.Error(err),
				)
			}
			break
		}
	}

	writeJSON(w, GPSReadingResponse{SessionID: id})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
