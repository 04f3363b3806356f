package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/probe"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, probes ProbeAnalyzer, ready ReadinessChecker) (*Server, *detect.Detector, *geo.SessionManager) {
	t.Helper()
	logger := zap.NewNop()
	detector := detect.New(detect.DefaultThresholds(), logger)
	sessions := geo.NewSessionManager(0, 0, logger)
	s := New("127.0.0.1:0", detector, sessions, nil, probes, ready, logger)
	return s, detector, sessions
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	if w := doRequest(s, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("readyz status = %d", w.Code)
	}

	w := doRequest(s, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Service != "tailchase" {
		t.Errorf("service = %q", health.Service)
	}
	if got := w.Header().Get("X-TailChase-Version"); got == "" {
		t.Error("version header missing")
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Error("request ID header missing")
	}
}

func TestReadyzNotReady(t *testing.T) {
	s, _, _ := newTestServer(t, nil, func(context.Context) error {
		return errors.New("capture source unavailable")
	})

	w := doRequest(s, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", w.Code)
	}
}

func TestAnalysisEndpoint(t *testing.T) {
	s, detector, _ := newTestServer(t, nil, nil)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		detector.Record(models.Sighting{
			MAC:        "AA:BB:CC:DD:EE:01",
			Timestamp:  base.Add(time.Duration(i) * 30 * time.Minute),
			LocationID: "home",
		})
	}

	w := doRequest(s, http.MethodGet, "/api/v1/analysis", "")
	if w.Code != http.StatusOK {
		t.Fatalf("analysis status = %d", w.Code)
	}
	var resp AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	if resp.Stats.UniqueDevices != 1 {
		t.Errorf("UniqueDevices = %d", resp.Stats.UniqueDevices)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].MAC != "AA:BB:CC:DD:EE:01" {
		t.Errorf("devices = %+v", resp.Devices)
	}
}

func TestGPSEndpoint(t *testing.T) {
	s, _, sessions := newTestServer(t, nil, nil)

	w := doRequest(s, http.MethodPost, "/api/v1/gps",
		`{"latitude": 33.4484, "longitude": -112.0740, "label": "coffee shop"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("gps status = %d: %s", w.Code, w.Body.String())
	}
	var resp GPSReadingResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode gps response: %v", err)
	}
	if resp.SessionID != "coffee_shop" {
		t.Errorf("session ID = %q", resp.SessionID)
	}
	if _, ok := sessions.CurrentSessionID(); !ok {
		t.Error("session manager has no current session after GPS post")
	}

	// Sessions list reflects it.
	w = doRequest(s, http.MethodGet, "/api/v1/sessions", "")
	var list []models.LocationSession
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list) != 1 || list[0].ID != "coffee_shop" {
		t.Errorf("sessions = %+v", list)
	}
}

func TestGPSValidation(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"latitude out of range", `{"latitude": 91, "longitude": 0}`},
		{"longitude out of range", `{"latitude": 0, "longitude": -181}`},
		{"bad timestamp", `{"latitude": 0, "longitude": 0, "timestamp": "yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/api/v1/gps", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestReportEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "# Surveillance Detection Report") {
		t.Error("report body missing title")
	}

	w = doRequest(s, http.MethodGet, "/api/v1/report/kml", "")
	if w.Code != http.StatusOK {
		t.Fatalf("kml status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<kml") {
		t.Error("kml body missing root element")
	}
}

type fakeProbes struct {
	results []probe.Result
	err     error
}

func (f *fakeProbes) Analyze(context.Context) ([]probe.Result, error) {
	return f.results, f.err
}

func TestProbesEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeProbes{results: []probe.Result{
		{Stat: models.ProbeStat{SSID: "HomeNet", Count: 3}},
	}}, nil)

	w := doRequest(s, http.MethodGet, "/api/v1/probes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("probes status = %d", w.Code)
	}
	var results []probe.Result
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode probes: %v", err)
	}
	if len(results) != 1 || results[0].Stat.SSID != "HomeNet" {
		t.Errorf("results = %+v", results)
	}
}

func TestProbesEndpointWithoutArchive(t *testing.T) {
	s, _, _ := newTestServer(t, nil, nil)
	if w := doRequest(s, http.MethodGet, "/api/v1/probes", ""); w.Code != http.StatusNotFound {
		t.Errorf("probes status = %d, want 404", w.Code)
	}
}
