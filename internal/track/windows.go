// Package track maintains the rolling reappearance windows. Devices and
// probed SSIDs seen in the most recent activity slice are checked against
// three progressively older time buckets; a hit means something nearby
// keeps coming back.
package track

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is the span covered by each history bucket.
	DefaultWindow = 5 * time.Minute
	// DefaultActiveSlice is the span of recent activity checked on
	// each cycle.
	DefaultActiveSlice = 2 * time.Minute
	// numBuckets covers the current window plus three past windows.
	numBuckets = 4
)

// Source supplies sightings for a time range. A zero end time means
// "up to now".
type Source interface {
	FetchSightings(ctx context.Context, start, end time.Time) ([]models.Sighting, error)
}

// Alert records a device or probed network reappearing after it was
// first seen in an earlier window.
type Alert struct {
	Kind   string    `json:"kind"` // "mac" or "ssid"
	Value  string    `json:"value"`
	Window string    `json:"window"` // which past window it was seen in
	Seen   time.Time `json:"seen"`
}

// IgnoreLists filters known devices out of the windows.
type IgnoreLists interface {
	IgnoredMAC(mac string) bool
	IgnoredSSID(ssid string) bool
}

type bucket struct {
	macs  map[string]struct{}
	ssids map[string]struct{}
}

func newBucket() bucket {
	return bucket{
		macs:  make(map[string]struct{}),
		ssids: make(map[string]struct{}),
	}
}

// WindowTracker holds four rolling buckets of recently seen MACs and
// probed SSIDs. Bucket 0 is the current window; buckets 1 through 3 are
// progressively older. Safe for concurrent use.
type WindowTracker struct {
	mu          sync.Mutex
	buckets     [numBuckets]bucket
	window      time.Duration
	activeSlice time.Duration
	ignore      IgnoreLists
	logger      *zap.Logger
}

// NewWindowTracker creates a tracker. Zero durations fall back to the
// defaults. The ignore lists may be nil.
func NewWindowTracker(window, activeSlice time.Duration, ignore IgnoreLists, logger *zap.Logger) *WindowTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if activeSlice <= 0 {
		activeSlice = DefaultActiveSlice
	}
	t := &WindowTracker{
		window:      window,
		activeSlice: activeSlice,
		ignore:      ignore,
		logger:      logger,
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// Initialize backfills all four buckets from the source so the first
// cycles after startup can already alert on reappearances. All queries
// run before any bucket is replaced, so a failed query leaves the
// tracker unchanged.
func (t *WindowTracker) Initialize(ctx context.Context, src Source, now time.Time) error {
	var fresh [numBuckets]bucket
	for i := 0; i < numBuckets; i++ {
		end := now.Add(-time.Duration(i) * t.window)
		start := end.Add(-t.window)
		sightings, err := src.FetchSightings(ctx, start, end)
		if err != nil {
			return fmt.Errorf("backfill window %d: %w", i, err)
		}
		fresh[i] = t.fill(sightings)
	}

	t.mu.Lock()
	t.buckets = fresh
	t.mu.Unlock()

	t.logger.Info("initialized tracking windows",
		zap.Duration("window", t.window),
		zap.Int("buckets", numBuckets),
	)
	return nil
}

// fill builds a bucket from sightings, applying the ignore lists and
// normalizing MAC case.
func (t *WindowTracker) fill(sightings []models.Sighting) bucket {
	b := newBucket()
	for _, s := range sightings {
		mac := strings.ToUpper(s.MAC)
		if t.ignore == nil || !t.ignore.IgnoredMAC(mac) {
			b.macs[mac] = struct{}{}
		}
		for _, ssid := range s.ProbedSSIDs {
			if t.ignore == nil || !t.ignore.IgnoredSSID(ssid) {
				b.ssids[ssid] = struct{}{}
			}
		}
	}
	return b
}

// ProcessCycle fetches the active slice ending at now, alerts on any MAC
// or probed SSID also present in a past bucket, and returns the alerts
// together with the slice's sightings for downstream consumers.
func (t *WindowTracker) ProcessCycle(ctx context.Context, src Source, now time.Time) ([]Alert, []models.Sighting, error) {
	active, err := src.FetchSightings(ctx, now.Add(-t.activeSlice), now)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch active slice: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var alerts []Alert
	seenMACs := make(map[string]struct{})
	seenSSIDs := make(map[string]struct{})

	for _, s := range active {
		mac := strings.ToUpper(s.MAC)
		if t.ignore == nil || !t.ignore.IgnoredMAC(mac) {
			if _, dup := seenMACs[mac]; !dup {
				seenMACs[mac] = struct{}{}
				if w := t.lookback(mac, func(b bucket) map[string]struct{} { return b.macs }); w > 0 {
					alerts = append(alerts, Alert{
						Kind:   "mac",
						Value:  mac,
						Window: t.windowLabel(w),
						Seen:   s.Timestamp,
					})
				}
			}
		}
		for _, ssid := range s.ProbedSSIDs {
			if t.ignore != nil && t.ignore.IgnoredSSID(ssid) {
				continue
			}
			if _, dup := seenSSIDs[ssid]; dup {
				continue
			}
			seenSSIDs[ssid] = struct{}{}
			if w := t.lookback(ssid, func(b bucket) map[string]struct{} { return b.ssids }); w > 0 {
				alerts = append(alerts, Alert{
					Kind:   "ssid",
					Value:  ssid,
					Window: t.windowLabel(w),
					Seen:   s.Timestamp,
				})
			}
		}
	}

	return alerts, active, nil
}

// lookback returns the index of the oldest past bucket containing the
// value, or 0 if it only appears in the current window or not at all.
func (t *WindowTracker) lookback(value string, sets func(bucket) map[string]struct{}) int {
	for i := numBuckets - 1; i >= 1; i-- {
		if _, ok := sets(t.buckets[i])[value]; ok {
			return i
		}
	}
	return 0
}

// windowLabel renders a past bucket index as a human-readable range,
// e.g. "5 to 10 minutes ago" for bucket 1 with the default window.
func (t *WindowTracker) windowLabel(i int) string {
	from := time.Duration(i) * t.window
	to := time.Duration(i+1) * t.window
	return fmt.Sprintf("%.0f to %.0f minutes ago", from.Minutes(), to.Minutes())
}

// Rotate shifts the buckets one window into the past and refreshes the
// current bucket from the source. The fetch happens before the shift,
// so a failed fetch leaves the buckets unchanged.
func (t *WindowTracker) Rotate(ctx context.Context, src Source, now time.Time) error {
	sightings, err := src.FetchSightings(ctx, now.Add(-t.window), now)
	if err != nil {
		return fmt.Errorf("refresh current window: %w", err)
	}
	fresh := t.fill(sightings)

	t.mu.Lock()
	for i := numBuckets - 1; i >= 1; i-- {
		t.buckets[i] = t.buckets[i-1]
	}
	t.buckets[0] = fresh
	t.mu.Unlock()

	t.logger.Debug("rotated tracking windows",
		zap.Int("current_macs", len(fresh.macs)),
		zap.Int("current_ssids", len(fresh.ssids)),
	)
	return nil
}

// BucketSizes returns the MAC count per bucket, newest first.
func (t *WindowTracker) BucketSizes() [numBuckets]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sizes [numBuckets]int
	for i, b := range t.buckets {
		sizes[i] = len(b.macs)
	}
	return sizes
}
