package geo

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// Default clustering parameters, matching the observed GPS noise of consumer
// receivers: readings within 100 m collapse into one place, and a gap longer
// than 10 minutes starts a new stay even at the same place.
const (
	DefaultLocationThresholdM = 100.0
	DefaultSessionTimeout     = 600 * time.Second
)

// session is the mutable internal representation of a location session.
type session struct {
	id       string
	location models.GPSPoint
	start    time.Time
	end      time.Time
	devices  map[string]struct{}
}

// SessionManager clusters GPS readings into location sessions and attributes
// device sightings to the current session. Safe for concurrent use.
type SessionManager struct {
	mu         sync.Mutex
	thresholdM float64
	timeout    time.Duration
	sessions   []*session
	current    *session
	logger     *zap.Logger
}

// NewSessionManager creates a SessionManager. Non-positive thresholdM or
// timeout fall back to the defaults.
func NewSessionManager(thresholdM float64, timeout time.Duration, logger *zap.Logger) *SessionManager {
	if thresholdM <= 0 {
		thresholdM = DefaultLocationThresholdM
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		thresholdM: thresholdM,
		timeout:    timeout,
		logger:     logger,
	}
}

// AddReading assigns a GPS reading to a session and returns the session ID.
// The nearest session within the location threshold continues if the reading
// arrives within the session timeout of its end; otherwise a new session is
// created. A timed-out session is never revived -- a reading at the same
// coordinates hours later is a new stay. Non-finite coordinates are
// discarded and return an empty ID.
func (m *SessionManager) AddReading(lat, lon float64, ts time.Time, label string) string {
	if !finite(lat) || !finite(lon) {
		m.logger.Warn("discarding non-finite GPS reading",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	point := models.GPSPoint{
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
		Label:     label,
	}

	if s := m.nearestActive(lat, lon, ts); s != nil {
		if ts.After(s.end) {
			s.end = ts
		}
		m.current = s
		m.logger.Debug("GPS reading continues session",
			zap.String("session_id", s.id),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return s.id
	}

	s := &session{
		id:       m.generateID(point),
		location: point,
		start:    ts,
		end:      ts,
		devices:  make(map[string]struct{}),
	}
	m.sessions = append(m.sessions, s)
	m.current = s

	m.logger.Info("new location session",
		zap.String("session_id", s.id),
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
	)
	return s.id
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// nearestActive returns the closest session within the clustering threshold
// whose end time is within the continuation timeout of ts, or nil.
// Must be called with m.mu held.
func (m *SessionManager) nearestActive(lat, lon float64, ts time.Time) *session {
	var best *session
	bestDist := m.thresholdM
	for _, s := range m.sessions {
		d := Distance(lat, lon, s.location.Latitude, s.location.Longitude)
		if d > bestDist {
			continue
		}
		if ts.Sub(s.end) > m.timeout {
			continue
		}
		best = s
		bestDist = d
	}
	return best
}

// generateID builds a unique session identifier from the reading's label or
// coordinates, appending a numeric suffix on collision.
// Must be called with m.mu held.
func (m *SessionManager) generateID(p models.GPSPoint) string {
	var base string
	if p.Label != "" {
		base = strings.ReplaceAll(p.Label, " ", "_")
	} else {
		base = fmt.Sprintf("loc_%.4f_%.4f", p.Latitude, p.Longitude)
	}

	existing := make(map[string]struct{}, len(m.sessions))
	for _, s := range m.sessions {
		existing[s.id] = struct{}{}
	}

	id := base
	for counter := 1; ; counter++ {
		if _, taken := existing[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, counter)
	}
}

// AttributeDevice records that a device was seen during the current session.
// Re-adding a device is a no-op. Returns false if no session exists yet,
// which is expected before the first GPS fix.
func (m *SessionManager) AttributeDevice(mac string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		m.logger.Warn("no current location session, cannot attribute device",
			zap.String("mac", mac),
		)
		return "", false
	}

	if _, seen := m.current.devices[mac]; !seen {
		m.current.devices[mac] = struct{}{}
		m.logger.Debug("device attributed to session",
			zap.String("mac", mac),
			zap.String("session_id", m.current.id),
		)
	}
	return m.current.id, true
}

// CurrentSessionID returns the ID of the current session, if any.
func (m *SessionManager) CurrentSessionID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.id, true
}

// History returns a snapshot of all sessions ordered by start time ascending.
func (m *SessionManager) History() []models.LocationSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.LocationSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// DevicesAcrossSessions returns devices seen in more than one session,
// mapped to the sorted session IDs they appeared in. Multi-location devices
// are the strongest surveillance signal.
func (m *SessionManager) DevicesAcrossSessions() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDevice := make(map[string][]string)
	for _, s := range m.sessions {
		for mac := range s.devices {
			byDevice[mac] = append(byDevice[mac], s.id)
		}
	}

	multi := make(map[string][]string)
	for mac, ids := range byDevice {
		if len(ids) > 1 {
			sort.Strings(ids)
			multi[mac] = ids
		}
	}
	return multi
}

// snapshot copies a session into its immutable model form.
func (s *session) snapshot() models.LocationSession {
	devices := make([]string, 0, len(s.devices))
	for mac := range s.devices {
		devices = append(devices, mac)
	}
	sort.Strings(devices)
	return models.LocationSession{
		ID:        s.id,
		Location:  s.location,
		StartTime: s.start,
		EndTime:   s.end,
		Devices:   devices,
	}
}
