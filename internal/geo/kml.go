package geo

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
)

// KML style IDs keyed by persistence tier.
const (
	styleSession  = "sessionStyle"
	styleCritical = "criticalDeviceStyle"
	styleHigh     = "highDeviceStyle"
	styleMedium   = "mediumDeviceStyle"
)

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	Xmlns    string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name        string         `xml:"name"`
	Description string         `xml:"description"`
	Styles      []kmlStyle     `xml:"Style"`
	Placemarks  []kmlPlacemark `xml:"Placemark"`
}

type kmlStyle struct {
	ID        string       `xml:"id,attr"`
	IconStyle kmlIconStyle `xml:"IconStyle"`
}

type kmlIconStyle struct {
	Color string  `xml:"color"`
	Scale float64 `xml:"scale"`
}

type kmlPlacemark struct {
	Name        string   `xml:"name"`
	Description string   `xml:"description"`
	StyleURL    string   `xml:"styleUrl"`
	Point       kmlPoint `xml:"Point"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

// ExportKML renders location sessions and suspicious devices as a KML
// document for map viewers. Devices are placed at the representative
// coordinates of each session they were seen in.
func ExportKML(sessions []models.LocationSession, devices []models.SuspiciousDevice, generated time.Time) ([]byte, error) {
	doc := kmlDocument{
		Name: "TailChase Surveillance Analysis",
		Description: fmt.Sprintf("Generated %s. Location sessions and persistent devices observed across them.",
			generated.UTC().Format(time.RFC3339)),
		Styles: []kmlStyle{
			{ID: styleSession, IconStyle: kmlIconStyle{Color: "ffff8800", Scale: 1.0}},
			{ID: styleCritical, IconStyle: kmlIconStyle{Color: "ff0000ff", Scale: 1.6}},
			{ID: styleHigh, IconStyle: kmlIconStyle{Color: "ff0080ff", Scale: 1.3}},
			{ID: styleMedium, IconStyle: kmlIconStyle{Color: "ff00ffff", Scale: 1.1}},
		},
	}

	byID := make(map[string]models.LocationSession, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		doc.Placemarks = append(doc.Placemarks, kmlPlacemark{
			Name: s.ID,
			Description: fmt.Sprintf("%s to %s, %d devices seen",
				s.StartTime.Format(time.RFC3339), s.EndTime.Format(time.RFC3339), len(s.Devices)),
			StyleURL: "#" + styleSession,
			Point:    pointFor(s.Location),
		})
	}

	for _, d := range devices {
		for _, locID := range d.Locations {
			s, ok := byID[locID]
			if !ok {
				continue
			}
			doc.Placemarks = append(doc.Placemarks, kmlPlacemark{
				Name: d.MAC,
				Description: fmt.Sprintf("Persistence score %.2f, %d appearances at %s",
					d.PersistenceScore, d.TotalAppearances, locID),
				StyleURL: "#" + deviceStyle(d.PersistenceScore),
				Point:    pointFor(s.Location),
			})
		}
	}

	body, err := xml.MarshalIndent(kmlRoot{
		Xmlns:    "http://www.opengis.net/kml/2.2",
		Document: doc,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal kml: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}

// deviceStyle maps a persistence score to a placemark style.
func deviceStyle(score float64) string {
	switch {
	case score > 0.9:
		return styleCritical
	case score >= 0.8:
		return styleHigh
	default:
		return styleMedium
	}
}

// pointFor formats a GPS point as KML lon,lat,alt coordinates.
func pointFor(p models.GPSPoint) kmlPoint {
	return kmlPoint{Coordinates: fmt.Sprintf("%f,%f,%f", p.Longitude, p.Latitude, p.Altitude)}
}
