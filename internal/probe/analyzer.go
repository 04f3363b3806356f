// Package probe analyzes archived probe requests. Probed SSIDs leak the
// network history of nearby devices; cross-referencing them against the
// WiGLE database turns that history into places.
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/tailchase/tailchase/internal/wigle"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// geolocateTop bounds how many SSIDs are sent to WiGLE per analysis,
// keeping well inside the daily query quota.
const geolocateTop = 10

// Store supplies aggregated probe statistics.
type Store interface {
	ProbeStats(ctx context.Context) ([]models.ProbeStat, error)
}

// Locator geolocates a network by SSID. Satisfied by *wigle.Client.
type Locator interface {
	SearchNetwork(ctx context.Context, ssid string, opts *wigle.SearchOptions) (*wigle.SearchResponse, error)
}

// Result is the analysis of one probed SSID.
type Result struct {
	Stat      models.ProbeStat      `json:"stat"`
	Flagged   bool                  `json:"flagged"`
	Reason    string                `json:"reason,omitempty"`
	Locations []wigle.NetworkResult `json:"locations,omitempty"`
}

// Analyzer ranks probed SSIDs and optionally geolocates the most common
// ones.
type Analyzer struct {
	store   Store
	locator Locator              // nil disables geolocation
	bounds  *wigle.SearchOptions // nil means unrestricted searches
	logger  *zap.Logger
}

// NewAnalyzer creates an Analyzer. locator may be nil to skip WiGLE
// lookups; bounds may be nil to search without a bounding box.
func NewAnalyzer(store Store, locator Locator, bounds *wigle.SearchOptions, logger *zap.Logger) *Analyzer {
	return &Analyzer{store: store, locator: locator, bounds: bounds, logger: logger}
}

// Analyze returns all probed SSIDs ordered by probe count, flagging
// suspiciously named networks. The most probed SSIDs are geolocated when
// a locator is configured; lookup failures degrade to ungeolocated
// results rather than failing the analysis.
func (a *Analyzer) Analyze(ctx context.Context) ([]Result, error) {
	stats, err := a.store.ProbeStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load probe stats: %w", err)
	}

	results := make([]Result, 0, len(stats))
	for i, st := range stats {
		r := Result{Stat: st}
		if reason := suspiciousName(st.SSID); reason != "" {
			r.Flagged = true
			r.Reason = reason
		}

		if a.locator != nil && i < geolocateTop {
			resp, err := a.locator.SearchNetwork(ctx, st.SSID, a.bounds)
			if err != nil {
				a.logger.Warn("wigle lookup failed",
					zap.String("ssid", st.SSID),
					zap.Error(err),
				)
			} else if resp.Success {
				r.Locations = resp.Results
			}
		}

		results = append(results, r)
	}
	return results, nil
}

var suspiciousKeywords = []string{
	"surveillance", "monitor", "track", "spy", "watch", "police", "fbi",
}

// suspiciousName returns a non-empty reason if the SSID contains a
// keyword associated with surveillance gear.
func suspiciousName(ssid string) string {
	lower := strings.ToLower(ssid)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(lower, kw) {
			return fmt.Sprintf("SSID contains keyword %q", kw)
		}
	}
	return ""
}
