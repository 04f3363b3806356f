// Package kismet reads device sightings out of Kismet capture databases.
// Kismet writes one sqlite file per capture run; the devices table holds
// a JSON blob per device with the probe request history nested inside.
package kismet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// DB is a read-only handle on a Kismet capture database.
type DB struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens a Kismet capture database. The file must already exist;
// Kismet owns the schema and we never write to it.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat capture database: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open capture database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping capture database: %w", err)
	}

	return &DB{db: db, path: path, logger: logger}, nil
}

// Path returns the capture file path.
func (d *DB) Path() string { return d.path }

// Close releases the database handle.
func (d *DB) Close() error { return d.db.Close() }

// Validate checks that the capture database has the devices table this
// package reads. Kismet schema changes surface here instead of as empty
// query results.
func (d *DB) Validate(ctx context.Context) error {
	var name string
	err := d.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'devices'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: not a Kismet capture database, no devices table", d.path)
	}
	if err != nil {
		return fmt.Errorf("validate capture database: %w", err)
	}
	return nil
}

// FetchSightings returns device sightings whose last activity falls in
// [start, end]. A zero end means no upper bound. Sightings carry the
// unknown location marker; location attribution happens downstream where
// GPS context is available.
func (d *DB) FetchSightings(ctx context.Context, start, end time.Time) ([]models.Sighting, error) {
	query := `SELECT devmac, type, device, last_time FROM devices WHERE last_time >= ?`
	args := []any{start.Unix()}
	if !end.IsZero() {
		query += ` AND last_time <= ?`
		args = append(args, end.Unix())
	}
	query += ` ORDER BY last_time ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var sightings []models.Sighting
	for rows.Next() {
		var (
			mac, devType string
			blob         []byte
			lastTime     int64
		)
		if err := rows.Scan(&mac, &devType, &blob, &lastTime); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}

		sightings = append(sightings, models.Sighting{
			MAC:         strings.ToUpper(mac),
			Timestamp:   time.Unix(lastTime, 0).UTC(),
			LocationID:  models.LocationUnknown,
			ProbedSSIDs: probedSSIDs(blob, d.logger),
			DeviceType:  devType,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return sightings, nil
}

// Kismet nests the probe history three levels deep in the device blob.
type deviceBlob struct {
	Dot11 struct {
		LastProbed probedRecords `json:"dot11.device.last_probed_ssid_record"`
	} `json:"dot11.device"`
}

type probedRecord struct {
	SSID string `json:"dot11.probedssid.ssid"`
}

// probedRecords accepts the record field as either a single object or an
// array, which varies across Kismet versions.
type probedRecords []probedRecord

func (p *probedRecords) UnmarshalJSON(data []byte) error {
	var list []probedRecord
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var single probedRecord
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*p = probedRecords{single}
	return nil
}

// probedSSIDs extracts the distinct non-empty probed SSIDs from a device
// blob. Non-dot11 devices and malformed blobs yield nil.
func probedSSIDs(blob []byte, logger *zap.Logger) []string {
	if len(blob) == 0 {
		return nil
	}
	var dev deviceBlob
	if err := json.Unmarshal(blob, &dev); err != nil {
		logger.Debug("unparseable device blob", zap.Error(err))
		return nil
	}

	var ssids []string
	seen := make(map[string]struct{})
	for _, rec := range dev.Dot11.LastProbed {
		if rec.SSID == "" {
			continue
		}
		if _, dup := seen[rec.SSID]; dup {
			continue
		}
		seen[rec.SSID] = struct{}{}
		ssids = append(ssids, rec.SSID)
	}
	return ssids
}

// NewestLog returns the most recently modified file matching the glob
// pattern, which is how a running Kismet's current capture is found.
func NewestLog(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob capture files: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no capture files match %q", pattern)
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no readable capture files match %q", pattern)
	}
	return newest, nil
}
