package detect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tailchase/tailchase/pkg/models"
)

// Report renders a markdown analysis report of the current ledger. The
// report groups devices by threat tier and appends correlation findings
// between devices that share locations or appear together repeatedly.
func (d *Detector) Report(now time.Time) string {
	devices := d.Analyze()
	stats := d.Stats()
	history := d.historySnapshot()

	var b strings.Builder

	b.WriteString("# Surveillance Detection Report\n\n")
	fmt.Fprintf(&b, "Report ID: %s\n\n", uuid.NewString())
	fmt.Fprintf(&b, "Generated: %s\n\n", now.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total appearances: %d\n", stats.TotalAppearances)
	fmt.Fprintf(&b, "- Unique devices: %d\n", stats.UniqueDevices)
	fmt.Fprintf(&b, "- Unique locations: %d\n", stats.UniqueLocations)
	fmt.Fprintf(&b, "- Observation span: %.1f hours\n", stats.DurationHours)
	fmt.Fprintf(&b, "- Flagged devices: %d\n", len(devices))
	fmt.Fprintf(&b, "- Persistence rate: %.1f%%\n", stats.PersistenceRate*100)
	fmt.Fprintf(&b, "- Multi-location rate: %.1f%%\n", stats.MultiLocationRate*100)
	fmt.Fprintf(&b, "- Temporal clustering: %.1f%%\n", stats.TemporalClustering*100)
	fmt.Fprintf(&b, "- Off-hours activity: %.1f%%\n", stats.OffHoursRate*100)
	fmt.Fprintf(&b, "- Probe anomalies: %.1f%%\n\n", stats.ProbeAnomalyRate*100)

	writeTier(&b, "Critical Threats", "Score above 0.9. Investigate immediately.", devices, func(s float64) bool { return s > 0.9 }, history)
	writeTier(&b, "High Threats", "Score between 0.8 and 0.9.", devices, func(s float64) bool { return s > 0.8 && s <= 0.9 }, history)
	writeTier(&b, "Medium Threats", "Score between 0.6 and 0.8.", devices, func(s float64) bool { return s > 0.6 && s <= 0.8 }, history)

	writeCorrelations(&b, devices, history)

	b.WriteString("## Detection Thresholds\n\n")
	fmt.Fprintf(&b, "- Minimum appearances: %d\n", d.thresholds.MinAppearances)
	fmt.Fprintf(&b, "- Minimum persistence score: %.2f\n", d.thresholds.MinPersistenceScore)

	return b.String()
}

func writeTier(b *strings.Builder, title, blurb string, devices []models.SuspiciousDevice, match func(float64) bool, history map[string][]models.Sighting) {
	var tier []models.SuspiciousDevice
	for _, dev := range devices {
		if match(dev.PersistenceScore) {
			tier = append(tier, dev)
		}
	}
	if len(tier) == 0 {
		return
	}

	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, blurb)
	for _, dev := range tier {
		fmt.Fprintf(b, "### %s\n\n", dev.MAC)
		fmt.Fprintf(b, "- Persistence score: %.2f\n", dev.PersistenceScore)
		fmt.Fprintf(b, "- Appearances: %d\n", dev.TotalAppearances)
		fmt.Fprintf(b, "- First seen: %s\n", dev.FirstSeen.UTC().Format(time.RFC3339))
		fmt.Fprintf(b, "- Last seen: %s\n", dev.LastSeen.UTC().Format(time.RFC3339))
		fmt.Fprintf(b, "- Locations: %s\n", strings.Join(dev.Locations, ", "))
		for _, reason := range dev.Reasons {
			fmt.Fprintf(b, "- %s\n", reason)
		}
		b.WriteString("\nRecent timeline:\n\n")
		for _, s := range recentTimeline(history[dev.MAC], 10) {
			fmt.Fprintf(b, "- %s at %s\n", s.Timestamp.UTC().Format(time.RFC3339), s.LocationID)
		}
		b.WriteString("\n")
	}
}

// recentTimeline returns the n most recent sightings, oldest first.
func recentTimeline(appearances []models.Sighting, n int) []models.Sighting {
	sorted := make([]models.Sighting, len(appearances))
	copy(sorted, appearances)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

// writeCorrelations reports pairs of flagged devices that share locations
// or repeatedly appear at the same location within an hour of each other,
// which can indicate coordinated teams.
func writeCorrelations(b *strings.Builder, devices []models.SuspiciousDevice, history map[string][]models.Sighting) {
	var lines []string
	for i := 0; i < len(devices); i++ {
		for j := i + 1; j < len(devices); j++ {
			a, c := devices[i], devices[j]

			shared := sharedLocations(a.Locations, c.Locations)
			if len(shared) > 0 {
				lines = append(lines, fmt.Sprintf("- %s and %s share locations: %s", a.MAC, c.MAC, strings.Join(shared, ", ")))
			}

			co := coAppearances(history[a.MAC], history[c.MAC])
			if co > 2 {
				lines = append(lines, fmt.Sprintf("- %s and %s appeared together %d times", a.MAC, c.MAC, co))
			}
		}
	}
	if len(lines) == 0 {
		return
	}

	b.WriteString("## Device Correlations\n\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")
}

func sharedLocations(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, l := range a {
		set[l] = struct{}{}
	}
	var shared []string
	for _, l := range b {
		if _, ok := set[l]; ok {
			shared = append(shared, l)
		}
	}
	sort.Strings(shared)
	return shared
}

// coAppearances counts sightings of two devices at the same location
// within one hour of each other.
func coAppearances(a, b []models.Sighting) int {
	var count int
	for _, sa := range a {
		for _, sb := range b {
			if sa.LocationID != sb.LocationID {
				continue
			}
			diff := sa.Timestamp.Sub(sb.Timestamp)
			if diff < 0 {
				diff = -diff
			}
			if diff <= time.Hour {
				count++
			}
		}
	}
	return count
}
