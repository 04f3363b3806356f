package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tailchase/tailchase/internal/detect"
	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/geo"
	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

type fakeSource struct {
	byStart map[time.Time][]models.Sighting
	err     error
}

func (f *fakeSource) FetchSightings(_ context.Context, start, _ time.Time) ([]models.Sighting, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byStart[start], nil
}

type fakeArchive struct {
	mu        sync.Mutex
	sightings []models.Sighting
	err       error
}

func (f *fakeArchive) InsertSighting(_ context.Context, s models.Sighting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sightings = append(f.sightings, s)
	return nil
}

func (f *fakeArchive) UpsertSession(context.Context, models.LocationSession) error { return nil }

func newMonitor(src Source, archive Archiver, bus *event.Bus) (*Monitor, *detect.Detector, *geo.SessionManager) {
	logger := zap.NewNop()
	tracker := track.NewWindowTracker(0, 0, nil, logger)
	detector := detect.New(detect.DefaultThresholds(), logger)
	sessions := geo.NewSessionManager(0, 0, logger)
	m := New(Config{}, src, tracker, detector, sessions, archive, bus, logger)
	return m, detector, sessions
}

func TestCycleFeedsDetectorAndPublishesAlerts(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	src := &fakeSource{byStart: map[time.Time][]models.Sighting{
		now.Add(-10 * time.Minute): {
			{MAC: "AA:BB:CC:DD:EE:01", Timestamp: now.Add(-7 * time.Minute)},
		},
		now.Add(-2 * time.Minute): {
			{MAC: "AA:BB:CC:DD:EE:01", Timestamp: now.Add(-time.Minute), LocationID: models.LocationUnknown},
			{MAC: "AA:BB:CC:DD:EE:02", Timestamp: now.Add(-time.Minute), LocationID: models.LocationUnknown},
		},
	}}

	bus := event.NewBus(zap.NewNop())
	var published []event.Event
	bus.Subscribe(TopicReappearance, func(_ context.Context, e event.Event) {
		published = append(published, e)
	})

	archive := &fakeArchive{}
	m, detector, sessions := newMonitor(src, archive, bus)

	// GPS fix arrives before the cycle, so sightings get a location.
	sessions.AddReading(33.4484, -112.0740, now.Add(-5*time.Minute), "home")

	if err := m.tracker.Initialize(context.Background(), src, now); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	m.Cycle(context.Background(), now)

	if detector.DeviceCount() != 2 {
		t.Errorf("detector tracks %d devices, want 2", detector.DeviceCount())
	}

	if len(published) != 1 {
		t.Fatalf("published %d alerts, want 1", len(published))
	}
	alert, ok := published[0].Payload.(track.Alert)
	if !ok {
		t.Fatalf("payload type %T, want track.Alert", published[0].Payload)
	}
	if alert.Value != "AA:BB:CC:DD:EE:01" {
		t.Errorf("alert value = %q", alert.Value)
	}

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.sightings) != 2 {
		t.Fatalf("archived %d sightings, want 2", len(archive.sightings))
	}
	if archive.sightings[0].LocationID != "home" {
		t.Errorf("archived location = %q, want home", archive.sightings[0].LocationID)
	}
}

func TestCycleSkipsOnSourceFailure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{}

	bus := event.NewBus(zap.NewNop())
	m, detector, _ := newMonitor(src, nil, bus)
	if err := m.tracker.Initialize(context.Background(), src, now); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	src.err = errors.New("database is locked")
	m.Cycle(context.Background(), now)

	if detector.DeviceCount() != 0 {
		t.Error("failed cycle still recorded sightings")
	}
}

func TestCycleArchiveFailureIsNonFatal(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{byStart: map[time.Time][]models.Sighting{
		now.Add(-2 * time.Minute): {
			{MAC: "AA:BB:CC:DD:EE:01", Timestamp: now, LocationID: models.LocationUnknown},
		},
	}}

	archive := &fakeArchive{err: errors.New("disk full")}
	m, detector, _ := newMonitor(src, archive, event.NewBus(zap.NewNop()))
	if err := m.tracker.Initialize(context.Background(), src, now); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	m.Cycle(context.Background(), now)
	if detector.DeviceCount() != 1 {
		t.Error("archive failure blocked detection")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	m, _, _ := newMonitor(src, nil, event.NewBus(zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on cancel")
	}
}

func TestCycleReportsSuspiciousOnce(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{}

	bus := event.NewBus(zap.NewNop())
	var published []event.Event
	bus.Subscribe(TopicSuspicious, func(_ context.Context, e event.Event) {
		published = append(published, e)
	})

	m, detector, _ := newMonitor(src, nil, bus)
	if err := m.tracker.Initialize(context.Background(), src, now); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}

	// History that crosses the persistence threshold.
	for i := 0; i < 6; i++ {
		detector.Record(models.Sighting{
			MAC:        "AA:BB:CC:DD:EE:01",
			Timestamp:  now.Add(time.Duration(-30*i) * time.Minute),
			LocationID: "home",
		})
	}

	m.Cycle(context.Background(), now)
	if len(published) != 1 {
		t.Fatalf("published %d suspicious events, want 1", len(published))
	}
	device, ok := published[0].Payload.(models.SuspiciousDevice)
	if !ok {
		t.Fatalf("payload type %T, want models.SuspiciousDevice", published[0].Payload)
	}
	if device.MAC != "AA:BB:CC:DD:EE:01" {
		t.Errorf("device MAC = %q", device.MAC)
	}

	// Already-reported devices stay quiet on later cycles.
	m.Cycle(context.Background(), now.Add(time.Minute))
	if len(published) != 1 {
		t.Errorf("published %d suspicious events after second cycle, want 1", len(published))
	}
}
