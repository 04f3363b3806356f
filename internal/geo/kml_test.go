package geo

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
)

func TestExportKML(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sessions := []models.LocationSession{
		{
			ID:        "home",
			Location:  models.GPSPoint{Latitude: 33.4484, Longitude: -112.0740},
			StartTime: base,
			EndTime:   base.Add(time.Hour),
			Devices:   []string{"AA:BB:CC:DD:EE:01"},
		},
		{
			ID:        "office",
			Location:  models.GPSPoint{Latitude: 40.7128, Longitude: -74.0060},
			StartTime: base.Add(2 * time.Hour),
			EndTime:   base.Add(3 * time.Hour),
		},
	}
	devices := []models.SuspiciousDevice{
		{
			MAC:              "AA:BB:CC:DD:EE:01",
			PersistenceScore: 0.95,
			TotalAppearances: 8,
			Locations:        []string{"home", "office"},
		},
		{
			MAC:              "AA:BB:CC:DD:EE:02",
			PersistenceScore: 0.7,
			TotalAppearances: 4,
			Locations:        []string{"home", "elsewhere"},
		},
	}

	out, err := ExportKML(sessions, devices, base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("ExportKML() error: %v", err)
	}

	var root struct {
		Document struct {
			Placemarks []struct {
				Name     string `xml:"name"`
				StyleURL string `xml:"styleUrl"`
				Point    struct {
					Coordinates string `xml:"coordinates"`
				} `xml:"Point"`
			} `xml:"Placemark"`
		} `xml:"Document"`
	}
	if err := xml.Unmarshal(out, &root); err != nil {
		t.Fatalf("output is not valid XML: %v", err)
	}

	// 2 sessions + critical device at both sessions + medium device at
	// home only (its "elsewhere" location has no session).
	if got := len(root.Document.Placemarks); got != 5 {
		t.Fatalf("got %d placemarks, want 5", got)
	}

	styles := make(map[string][]string)
	for _, p := range root.Document.Placemarks {
		styles[p.Name] = append(styles[p.Name], p.StyleURL)
	}
	if len(styles["AA:BB:CC:DD:EE:01"]) != 2 || styles["AA:BB:CC:DD:EE:01"][0] != "#criticalDeviceStyle" {
		t.Errorf("critical device placemarks = %v", styles["AA:BB:CC:DD:EE:01"])
	}
	if len(styles["AA:BB:CC:DD:EE:02"]) != 1 || styles["AA:BB:CC:DD:EE:02"][0] != "#mediumDeviceStyle" {
		t.Errorf("medium device placemarks = %v", styles["AA:BB:CC:DD:EE:02"])
	}

	if !strings.Contains(root.Document.Placemarks[0].Point.Coordinates, "-112.07") {
		t.Errorf("session coordinates = %q, want lon first", root.Document.Placemarks[0].Point.Coordinates)
	}
}
