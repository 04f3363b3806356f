// Package detect implements the batch surveillance detection engine: the
// appearance ledger, the persistence scorer, and the report generator.
package detect

import (
	"fmt"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
)

// Scoring constants. A device must appear at least minScoreAppearances times
// across at least minTimeSpan, at a rate of at least minAppearanceRate per
// hour, before it earns any score at all.
const (
	minScoreAppearances = 3
	minTimeSpan         = time.Hour
	minAppearanceRate   = 0.5 // appearances per hour
	locationBonus       = 0.3
)

// Score maps a device's appearance history to a persistence score in [0,1]
// with human-readable reasons. It is a pure function: the same appearances
// always yield the same result, regardless of input order. Histories with
// too few appearances, too short a span, or too low a rate score zero.
func Score(appearances []models.Sighting) (float64, []string) {
	if len(appearances) < minScoreAppearances {
		return 0, nil
	}

	first, last := appearances[0].Timestamp, appearances[0].Timestamp
	for _, a := range appearances[1:] {
		if a.Timestamp.Before(first) {
			first = a.Timestamp
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}

	span := last.Sub(first)
	if span < minTimeSpan {
		return 0, nil
	}
	spanHours := span.Hours()

	rate := float64(len(appearances)) / spanHours
	if rate < minAppearanceRate {
		return 0, nil
	}

	score := rate / 2.0
	reasons := []string{
		fmt.Sprintf("Appeared %d times over %.1f hours", len(appearances), spanHours),
	}

	locations := make(map[string]struct{})
	for _, a := range appearances {
		locations[a.LocationID] = struct{}{}
	}
	if len(locations) > 1 {
		score += locationBonus
		reasons = append(reasons,
			fmt.Sprintf("Followed across %d different locations", len(locations)))
	}

	// Cap once, after the bonus.
	if score > 1.0 {
		score = 1.0
	}
	return score, reasons
}
