package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tailchase/tailchase/pkg/models"
)

var schemaMigrations = []Migration{
	{
		Version:     1,
		Description: "sightings, probes, and sessions tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE sightings (
					id           INTEGER PRIMARY KEY AUTOINCREMENT,
					mac          TEXT     NOT NULL,
					seen_at      DATETIME NOT NULL,
					location_id  TEXT     NOT NULL,
					probed_ssids TEXT     NOT NULL DEFAULT '[]',
					device_type  TEXT     NOT NULL DEFAULT ''
				);
				CREATE INDEX idx_sightings_seen_at ON sightings (seen_at);
				CREATE INDEX idx_sightings_mac ON sightings (mac);

				CREATE TABLE probes (
					id      INTEGER PRIMARY KEY AUTOINCREMENT,
					mac     TEXT     NOT NULL,
					ssid    TEXT     NOT NULL,
					seen_at DATETIME NOT NULL
				);
				CREATE INDEX idx_probes_ssid ON probes (ssid);

				CREATE TABLE sessions (
					id       TEXT PRIMARY KEY,
					lat      REAL NOT NULL,
					lon      REAL NOT NULL,
					label    TEXT NOT NULL DEFAULT '',
					start_at DATETIME NOT NULL,
					end_at   DATETIME NOT NULL,
					devices  TEXT NOT NULL DEFAULT '[]'
				)
			`)
			return err
		},
	},
}

// InsertSighting archives a sighting and one probe row per probed SSID.
func (a *Archive) InsertSighting(ctx context.Context, s models.Sighting) error {
	ssids, err := json.Marshal(s.ProbedSSIDs)
	if err != nil {
		return fmt.Errorf("marshal probed ssids: %w", err)
	}

	return a.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sightings (mac, seen_at, location_id, probed_ssids, device_type)
			 VALUES (?, ?, ?, ?, ?)`,
			s.MAC, s.Timestamp.UTC(), s.LocationID, string(ssids), s.DeviceType,
		); err != nil {
			return fmt.Errorf("insert sighting: %w", err)
		}
		for _, ssid := range s.ProbedSSIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO probes (mac, ssid, seen_at) VALUES (?, ?, ?)`,
				s.MAC, ssid, s.Timestamp.UTC(),
			); err != nil {
				return fmt.Errorf("insert probe: %w", err)
			}
		}
		return nil
	})
}

// FetchSightings returns archived sightings in [start, end], oldest first.
// A zero end means no upper bound. Satisfies the tracker's source
// interface, so archived captures can be replayed through analysis.
func (a *Archive) FetchSightings(ctx context.Context, start, end time.Time) ([]models.Sighting, error) {
	query := `SELECT mac, seen_at, location_id, probed_ssids, device_type
	          FROM sightings WHERE seen_at >= ?`
	args := []any{start.UTC()}
	if !end.IsZero() {
		query += ` AND seen_at <= ?`
		args = append(args, end.UTC())
	}
	query += ` ORDER BY seen_at ASC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()

	var out []models.Sighting
	for rows.Next() {
		var s models.Sighting
		var ssids string
		if err := rows.Scan(&s.MAC, &s.Timestamp, &s.LocationID, &ssids, &s.DeviceType); err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		if err := json.Unmarshal([]byte(ssids), &s.ProbedSSIDs); err != nil {
			return nil, fmt.Errorf("parse probed ssids: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sightings: %w", err)
	}
	return out, nil
}

// UpsertSession writes a location session, replacing any existing row so
// the archived end time and device list track the live session.
func (a *Archive) UpsertSession(ctx context.Context, s models.LocationSession) error {
	devices, err := json.Marshal(s.Devices)
	if err != nil {
		return fmt.Errorf("marshal session devices: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO sessions (id, lat, lon, label, start_at, end_at, devices)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET end_at = excluded.end_at, devices = excluded.devices`,
		s.ID, s.Location.Latitude, s.Location.Longitude, s.Location.Label,
		s.StartTime.UTC(), s.EndTime.UTC(), string(devices),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListSessions returns all archived sessions ordered by start time.
func (a *Archive) ListSessions(ctx context.Context) ([]models.LocationSession, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, lat, lon, label, start_at, end_at, devices
		 FROM sessions ORDER BY start_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.LocationSession
	for rows.Next() {
		var s models.LocationSession
		var devices string
		if err := rows.Scan(&s.ID, &s.Location.Latitude, &s.Location.Longitude,
			&s.Location.Label, &s.StartTime, &s.EndTime, &devices); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(devices), &s.Devices); err != nil {
			return nil, fmt.Errorf("parse session devices: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// ProbeStats aggregates archived probe requests per SSID, most probed
// first.
func (a *Archive) ProbeStats(ctx context.Context) ([]models.ProbeStat, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT ssid, COUNT(*), MIN(seen_at), MAX(seen_at)
		 FROM probes GROUP BY ssid ORDER BY COUNT(*) DESC, ssid ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query probe stats: %w", err)
	}
	defer rows.Close()

	var out []models.ProbeStat
	for rows.Next() {
		var p models.ProbeStat
		if err := rows.Scan(&p.SSID, &p.Count, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan probe stat: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe stats: %w", err)
	}
	return out, nil
}
