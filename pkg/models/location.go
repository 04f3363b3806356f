package models

import "time"

// GPSPoint is a single GPS reading. Immutable once created.
type GPSPoint struct {
	Latitude  float64   `json:"latitude" example:"33.4484"`
	Longitude float64   `json:"longitude" example:"-112.0740"`
	Altitude  float64   `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label,omitempty" example:"home"`
}

// LocationSession is a geographically clustered, time-bounded stay at one
// place. The session ID is unique and stable for the session's lifetime.
type LocationSession struct {
	ID        string    `json:"id" example:"loc_33.4484_-112.0740"`
	Location  GPSPoint  `json:"location"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Devices   []string  `json:"devices"`
}
