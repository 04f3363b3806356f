package detect

import (
	"math"
	"sort"
	"strings"

	"github.com/tailchase/tailchase/pkg/models"
)

// Devices probing for more than this many distinct networks are flagged
// as probe anomalies.
const probeAnomalySSIDs = 20

// suspiciousSSIDKeywords mark probe requests worth flagging regardless of
// how many networks the device probes for.
var suspiciousSSIDKeywords = []string{
	"surveillance", "monitor", "track", "spy", "watch", "police", "fbi",
}

// Stats summarizes the detector's ledger for analysis reports. Rates are
// fractions of unique devices in [0, 1].
type Stats struct {
	TotalAppearances   int     `json:"total_appearances"`
	UniqueDevices      int     `json:"unique_devices"`
	UniqueLocations    int     `json:"unique_locations"`
	DurationHours      float64 `json:"duration_hours"`
	PersistenceRate    float64 `json:"persistence_rate"`
	MultiLocationRate  float64 `json:"multi_location_rate"`
	TemporalClustering float64 `json:"temporal_clustering"`
	OffHoursRate       float64 `json:"off_hours_rate"`
	ProbeAnomalyRate   float64 `json:"probe_anomaly_rate"`
}

// Stats computes aggregate statistics across all tracked devices.
func (d *Detector) Stats() Stats {
	history := d.historySnapshot()

	suspicious := len(d.Analyze())

	var st Stats
	st.UniqueDevices = len(history)
	if st.UniqueDevices == 0 {
		return st
	}

	locations := make(map[string]struct{})
	var earliest, latest *models.Sighting
	var multiLocation, clustered, offHours, probeAnomalies int

	for _, appearances := range history {
		st.TotalAppearances += len(appearances)

		deviceLocs := make(map[string]struct{})
		for i := range appearances {
			a := &appearances[i]
			locations[a.LocationID] = struct{}{}
			deviceLocs[a.LocationID] = struct{}{}
			if earliest == nil || a.Timestamp.Before(earliest.Timestamp) {
				earliest = a
			}
			if latest == nil || a.Timestamp.After(latest.Timestamp) {
				latest = a
			}
		}
		if len(deviceLocs) > 1 {
			multiLocation++
		}
		if regularIntervals(appearances) {
			clustered++
		}
		if mostlyOffHours(appearances) {
			offHours++
		}
		if probeAnomaly(appearances) {
			probeAnomalies++
		}
	}

	st.UniqueLocations = len(locations)
	if earliest != nil && latest != nil {
		st.DurationHours = latest.Timestamp.Sub(earliest.Timestamp).Hours()
	}

	n := float64(st.UniqueDevices)
	st.PersistenceRate = float64(suspicious) / n
	st.MultiLocationRate = float64(multiLocation) / n
	st.TemporalClustering = float64(clustered) / n
	st.OffHoursRate = float64(offHours) / n
	st.ProbeAnomalyRate = float64(probeAnomalies) / n
	return st
}

// regularIntervals reports whether the appearance gaps cluster tightly,
// which suggests automated or scheduled activity rather than ambient
// foot traffic. Requires at least three appearances for two intervals.
func regularIntervals(appearances []models.Sighting) bool {
	if len(appearances) < 3 {
		return false
	}

	times := make([]float64, len(appearances))
	for i, a := range appearances {
		times[i] = float64(a.Timestamp.Unix())
	}
	sort.Float64s(times)

	intervals := make([]float64, len(times)-1)
	var mean float64
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i] - times[i-1]
		mean += intervals[i-1]
	}
	mean /= float64(len(intervals))

	var variance float64
	for _, iv := range intervals {
		variance += math.Pow(iv-mean, 2)
	}
	variance /= float64(len(intervals))

	return variance < 3600
}

// mostlyOffHours reports whether more than half of the appearances fall
// between 22:00 and 06:00 local time.
func mostlyOffHours(appearances []models.Sighting) bool {
	var off int
	for _, a := range appearances {
		h := a.Timestamp.Hour()
		if h >= 22 || h <= 6 {
			off++
		}
	}
	return off*2 > len(appearances)
}

// probeAnomaly reports whether the device probes for an unusually broad
// set of networks or for any suspiciously named SSID.
func probeAnomaly(appearances []models.Sighting) bool {
	ssids := make(map[string]struct{})
	for _, a := range appearances {
		for _, ssid := range a.ProbedSSIDs {
			ssids[ssid] = struct{}{}
			lower := strings.ToLower(ssid)
			for _, kw := range suspiciousSSIDKeywords {
				if strings.Contains(lower, kw) {
					return true
				}
			}
		}
	}
	return len(ssids) > probeAnomalySSIDs
}
