// Package monitor runs the live surveillance-detection loop: poll the
// capture source, feed sightings through the detector, and publish
// reappearance and suspicious-device alerts on the event bus.
package monitor

import (
	"context"
	"time"

	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// Bus topics published by the monitor.
const (
	TopicReappearance = "track.reappearance"
	TopicSuspicious   = "detect.suspicious"
)

// Source supplies sightings for a time range. A zero end time means
// "up to now".
type Source interface {
	FetchSightings(ctx context.Context, start, end time.Time) ([]models.Sighting, error)
}

// Archiver persists processed sightings. May be nil to disable archiving.
type Archiver interface {
	InsertSighting(ctx context.Context, s models.Sighting) error
	UpsertSession(ctx context.Context, s models.LocationSession) error
}

// Config controls the monitoring loop timing.
type Config struct {
	// CheckInterval is the pause between cycles.
	CheckInterval time.Duration
	// RotateEvery is the number of cycles between window rotations.
	RotateEvery int
	// CycleTimeout bounds the capture-source queries of one cycle.
	CycleTimeout time.Duration
}

// DefaultConfig returns the standard loop timing: check every minute,
// rotate the five-minute windows every fifth cycle.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		RotateEvery:   5,
		CycleTimeout:  30 * time.Second,
	}
}

// Monitor drives the detection pipeline against a live capture source.
type Monitor struct {
	cfg      Config
	src      Source
	tracker  *track.WindowTracker
	detector *detect.Detector
	sessions *geo.SessionManager
	archive  Archiver
	bus      *event.Bus
	logger   *zap.Logger

	flagged map[string]struct{} // MACs already reported as suspicious
}

// New assembles a Monitor. The archive may be nil.
func New(cfg Config, src Source, tracker *track.WindowTracker, detector *detect.Detector,
	sessions *geo.SessionManager, archive Archiver, bus *event.Bus, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.RotateEvery <= 0 {
		cfg.RotateEvery = def.RotateEvery
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = def.CycleTimeout
	}
	return &Monitor{
		cfg:      cfg,
		src:      src,
		tracker:  tracker,
		detector: detector,
		sessions: sessions,
		archive:  archive,
		bus:      bus,
		logger:   logger,
		flagged:  make(map[string]struct{}),
	}
}

// Run executes the monitoring loop until the context is canceled. The
// tracker is backfilled first so reappearance checks work from the very
// first cycle.
func (m *Monitor) Run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
	err := m.tracker.Initialize(initCtx, m.src, time.Now())
	cancel()
	if err != nil {
		return err
	}

	m.logger.Info("monitoring started",
		zap.Duration("check_interval", m.cfg.CheckInterval),
		zap.Int("rotate_every", m.cfg.RotateEvery),
	)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	var cycle int
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitoring stopped", zap.Int("cycles", cycle))
			return ctx.Err()
		case <-ticker.C:
			cycle++
			m.Cycle(ctx, time.Now())
			if cycle%m.cfg.RotateEvery == 0 {
				m.rotate(ctx)
			}
		}
	}
}

// Cycle runs one detection pass: fetch the active slice, raise alerts for
// reappearing devices, and feed every sighting into the detector. A
// failing capture source skips the cycle rather than aborting the loop,
// since Kismet briefly locks its database during writes.
func (m *Monitor) Cycle(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
	defer cancel()

	alerts, active, err := m.tracker.ProcessCycle(ctx, m.src, now)
	if err != nil {
		cyclesSkipped.Inc()
		m.logger.Warn("cycle skipped", zap.Error(err))
		return
	}
	cyclesTotal.Inc()

	for _, s := range active {
		m.ingest(ctx, s)
	}
	trackedDevices.Set(float64(m.detector.DeviceCount()))

	for _, a := range alerts {
		alertsTotal.WithLabelValues(a.Kind).Inc()
		m.logger.Info("reappearance alert",
			zap.String("kind", a.Kind),
			zap.String("value", a.Value),
			zap.String("window", a.Window),
		)
		m.bus.Publish(ctx, event.Event{
			Topic:     TopicReappearance,
			Source:    "monitor",
			Timestamp: a.Seen,
			Payload:   a,
		})
	}

	m.reportSuspicious(ctx, now)
}

// reportSuspicious publishes one event per device that newly crossed the
// persistence threshold this cycle.
func (m *Monitor) reportSuspicious(ctx context.Context, now time.Time) {
	for _, d := range m.detector.Analyze() {
		if _, seen := m.flagged[d.MAC]; seen {
			continue
		}
		m.flagged[d.MAC] = struct{}{}

		suspiciousDevices.Inc()
		m.logger.Warn("suspicious device detected",
			zap.String("mac", d.MAC),
			zap.Float64("score", d.PersistenceScore),
			zap.Strings("reasons", d.Reasons),
		)
		m.bus.Publish(ctx, event.Event{
			Topic:     TopicSuspicious,
			Source:    "monitor",
			Timestamp: now,
			Payload:   d,
		})
	}
}

// ingest attributes a sighting to the current location session, records
// it in the detector, and archives it.
func (m *Monitor) ingest(ctx context.Context, s models.Sighting) {
	if id, ok := m.sessions.CurrentSessionID(); ok {
		s.LocationID = id
		m.sessions.AttributeDevice(s.MAC)
	}

	m.detector.Record(s)
	sightingsProcessed.Inc()

	if m.archive != nil {
		if err := m.archive.InsertSighting(ctx, s); err != nil {
			m.logger.Warn("archive sighting failed", zap.Error(err))
		}
	}
}

func (m *Monitor) rotate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CycleTimeout)
	defer cancel()

	if err := m.tracker.Rotate(ctx, m.src, time.Now()); err != nil {
		m.logger.Warn("window rotation failed, keeping previous windows", zap.Error(err))
	}
}
