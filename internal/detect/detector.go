package detect

import (
	"sort"
	"sync"

	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// Thresholds control which scored devices the detector reports.
type Thresholds struct {
	MinAppearances      int
	MinPersistenceScore float64
}

// DefaultThresholds returns the standard detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAppearances:      3,
		MinPersistenceScore: 0.5,
	}
}

// Detector owns the appearance ledger and produces ranked suspicious-device
// snapshots. Histories grow monotonically for the detector's lifetime and
// are never pruned; Analyze is a read-only projection over them.
// Safe for concurrent use.
type Detector struct {
	mu         sync.Mutex
	thresholds Thresholds
	history    map[string][]models.Sighting
	total      int
	logger     *zap.Logger
}

// New creates a Detector with the given thresholds. Zero-valued threshold
// fields fall back to the defaults.
func New(th Thresholds, logger *zap.Logger) *Detector {
	def := DefaultThresholds()
	if th.MinAppearances <= 0 {
		th.MinAppearances = def.MinAppearances
	}
	if th.MinPersistenceScore <= 0 {
		th.MinPersistenceScore = def.MinPersistenceScore
	}
	return &Detector{
		thresholds: th,
		history:    make(map[string][]models.Sighting),
		logger:     logger,
	}
}

// Record appends a sighting to the device's appearance history.
func (d *Detector) Record(s models.Sighting) {
	d.mu.Lock()
	d.history[s.MAC] = append(d.history[s.MAC], s)
	d.total++
	d.mu.Unlock()

	d.logger.Debug("recorded appearance",
		zap.String("mac", s.MAC),
		zap.String("location_id", s.LocationID),
	)
}

// DeviceCount returns the number of distinct devices tracked.
func (d *Detector) DeviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

// Analyze scores every tracked device and returns those exceeding the
// thresholds, sorted by persistence score descending (MAC ascending on
// ties, so output is deterministic). Each call produces a fresh snapshot.
func (d *Detector) Analyze() []models.SuspiciousDevice {
	d.mu.Lock()
	defer d.mu.Unlock()

	var suspicious []models.SuspiciousDevice
	for mac, appearances := range d.history {
		if len(appearances) < d.thresholds.MinAppearances {
			continue
		}

		score, reasons := Score(appearances)
		if score <= d.thresholds.MinPersistenceScore {
			continue
		}

		suspicious = append(suspicious, buildSnapshot(mac, score, reasons, appearances))
	}

	sort.Slice(suspicious, func(i, j int) bool {
		if suspicious[i].PersistenceScore != suspicious[j].PersistenceScore {
			return suspicious[i].PersistenceScore > suspicious[j].PersistenceScore
		}
		return suspicious[i].MAC < suspicious[j].MAC
	})
	return suspicious
}

// buildSnapshot derives the immutable SuspiciousDevice view of a history.
func buildSnapshot(mac string, score float64, reasons []string, appearances []models.Sighting) models.SuspiciousDevice {
	first, last := appearances[0].Timestamp, appearances[0].Timestamp
	locations := make(map[string]struct{})
	for _, a := range appearances {
		if a.Timestamp.Before(first) {
			first = a.Timestamp
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
		locations[a.LocationID] = struct{}{}
	}

	locs := make([]string, 0, len(locations))
	for l := range locations {
		locs = append(locs, l)
	}
	sort.Strings(locs)

	return models.SuspiciousDevice{
		MAC:              mac,
		PersistenceScore: score,
		Reasons:          reasons,
		FirstSeen:        first,
		LastSeen:         last,
		TotalAppearances: len(appearances),
		Locations:        locs,
	}
}

// historySnapshot returns a copy of the ledger for report builders.
func (d *Detector) historySnapshot() map[string][]models.Sighting {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string][]models.Sighting, len(d.history))
	for mac, appearances := range d.history {
		cp := make([]models.Sighting, len(appearances))
		copy(cp, appearances)
		out[mac] = cp
	}
	return out
}
