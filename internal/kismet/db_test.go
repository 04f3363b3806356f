package kismet

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// newCaptureDB creates a minimal Kismet-shaped capture file.
func newCaptureDB(t *testing.T, rows []deviceRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Kismet-test.kismet")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE devices (devmac TEXT, type TEXT, device BLOB, last_time INTEGER)`); err != nil {
		t.Fatalf("create devices table: %v", err)
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO devices (devmac, type, device, last_time) VALUES (?, ?, ?, ?)`,
			r.mac, r.devType, r.blob, r.lastTime); err != nil {
			t.Fatalf("insert device row: %v", err)
		}
	}
	return path
}

type deviceRow struct {
	mac, devType string
	blob         string
	lastTime     int64
}

func TestFetchSightings(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	path := newCaptureDB(t, []deviceRow{
		{
			mac:     "aa:bb:cc:dd:ee:01",
			devType: "Wi-Fi Client",
			blob: `{"dot11.device": {"dot11.device.last_probed_ssid_record": [
				{"dot11.probedssid.ssid": "HomeNet"},
				{"dot11.probedssid.ssid": "CoffeeShop"},
				{"dot11.probedssid.ssid": ""},
				{"dot11.probedssid.ssid": "HomeNet"}
			]}}`,
			lastTime: base.Unix(),
		},
		{
			mac:      "AA:BB:CC:DD:EE:02",
			devType:  "Wi-Fi AP",
			blob:     `{"dot11.device": {"dot11.device.last_probed_ssid_record": {"dot11.probedssid.ssid": "Single"}}}`,
			lastTime: base.Add(time.Minute).Unix(),
		},
		{
			mac:      "AA:BB:CC:DD:EE:03",
			devType:  "BTLE",
			blob:     `not json`,
			lastTime: base.Add(2 * time.Minute).Unix(),
		},
		{
			mac:      "AA:BB:CC:DD:EE:04",
			devType:  "Wi-Fi Client",
			blob:     `{}`,
			lastTime: base.Add(time.Hour).Unix(),
		},
	})

	db, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if err := db.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	got, err := db.FetchSightings(context.Background(), base, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("FetchSightings() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d sightings, want 3 (row outside range excluded)", len(got))
	}

	first := got[0]
	if first.MAC != "AA:BB:CC:DD:EE:01" {
		t.Errorf("MAC = %q, want uppercased", first.MAC)
	}
	if first.LocationID != models.LocationUnknown {
		t.Errorf("LocationID = %q, want %q", first.LocationID, models.LocationUnknown)
	}
	if !first.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", first.Timestamp, base)
	}
	if len(first.ProbedSSIDs) != 2 || first.ProbedSSIDs[0] != "HomeNet" || first.ProbedSSIDs[1] != "CoffeeShop" {
		t.Errorf("ProbedSSIDs = %v, want deduplicated [HomeNet CoffeeShop]", first.ProbedSSIDs)
	}

	if len(got[1].ProbedSSIDs) != 1 || got[1].ProbedSSIDs[0] != "Single" {
		t.Errorf("single-object probe record parsed as %v", got[1].ProbedSSIDs)
	}
	if got[2].ProbedSSIDs != nil {
		t.Errorf("malformed blob yielded SSIDs: %v", got[2].ProbedSSIDs)
	}

	// Zero end time means no upper bound.
	all, err := db.FetchSightings(context.Background(), base, time.Time{})
	if err != nil {
		t.Fatalf("FetchSightings() open-ended error: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("open-ended fetch got %d sightings, want 4", len(all))
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.kismet"), zap.NewNop()); err == nil {
		t.Error("Open() should fail for a missing file")
	}
}

func TestValidateRejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE notes (id INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	k, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer k.Close()

	if err := k.Validate(context.Background()); err == nil {
		t.Error("Validate() should reject a database without a devices table")
	}
}

func TestNewestLog(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "Kismet-old.kismet")
	newer := filepath.Join(dir, "Kismet-new.kismet")

	for _, p := range []string{older, newer} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	got, err := NewestLog(filepath.Join(dir, "*.kismet"))
	if err != nil {
		t.Fatalf("NewestLog() error: %v", err)
	}
	if got != newer {
		t.Errorf("NewestLog() = %q, want %q", got, newer)
	}

	if _, err := NewestLog(filepath.Join(dir, "*.absent")); err == nil {
		t.Error("NewestLog() should fail with no matches")
	}
}
