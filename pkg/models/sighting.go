// Package models defines the shared value types for TailChase.
package models

import "time"

// LocationUnknown is the location tag assigned to sightings recorded before
// any GPS fix exists.
const LocationUnknown = "unknown"

// Sighting is one observed appearance of a wireless device. Records are
// immutable once created; stores only ever append them.
type Sighting struct {
	MAC         string    `json:"mac" example:"AA:BB:CC:DD:EE:FF"`
	Timestamp   time.Time `json:"timestamp"`
	LocationID  string    `json:"location_id" example:"home"`
	ProbedSSIDs []string  `json:"probed_ssids,omitempty"`
	DeviceType  string    `json:"device_type,omitempty" example:"Wi-Fi Client"`
}

// SuspiciousDevice is a snapshot produced by a scoring pass. It is never
// mutated after creation; each analysis run builds a fresh set.
type SuspiciousDevice struct {
	MAC              string    `json:"mac" example:"AA:BB:CC:DD:EE:FF"`
	PersistenceScore float64   `json:"persistence_score" example:"0.85"`
	Reasons          []string  `json:"reasons"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	TotalAppearances int       `json:"total_appearances" example:"12"`
	Locations        []string  `json:"locations"`
}

// ProbeStat summarizes how often a probed network name was observed.
type ProbeStat struct {
	SSID      string    `json:"ssid"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
