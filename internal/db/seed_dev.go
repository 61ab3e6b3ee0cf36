package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// ScannerFingerprints are bound to the demo mode_a point so a local
	// terminal can submit identity-token scans.
	ScannerFingerprints []string
}

// SeedDev inserts a small demo catalog when the action_points table is empty.
// It is only called in the dev environment without a catalog file.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_points;`).Scan(&n); err != nil {
		return fmt.Errorf("seed count action_points: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC().UnixMilli()

	// Printed mess entry code with a 75 m geofence around the dining hall
	// and lunch/dinner windows.
	if _, err := db.ExecContext(ctx, `
INSERT INTO action_points(
  id, name, action_type, location_code, building, floor,
  geofence_lat, geofence_lng, geofence_radius_m,
  time_windows_json, qr_mode, is_active, created_at_ms
) VALUES (
  'ap-dev-mess', 'Dev Mess Hall', 'mess_entry', 'MESS-G', 'Dining', 'G',
  12.971600, 77.594600, 75,
  '[{"start":"12:00","end":"14:30"},{"start":"19:00","end":"21:30"}]', 'mode_b', 1, ?
);`, now); err != nil {
		return fmt.Errorf("seed ap-dev-mess: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
INSERT INTO action_points(
  id, name, action_type, location_code, building, floor, qr_mode, is_active, created_at_ms
) VALUES ('ap-dev-lecture', 'Dev Lecture Hall 1', 'attendance_mark', 'LH1', 'Academic', '1', 'mode_b', 1, ?);
`, now); err != nil {
		return fmt.Errorf("seed ap-dev-lecture: %w", err)
	}

	scanners, err := json.Marshal(append([]string{}, opt.ScannerFingerprints...))
	if err != nil {
		return fmt.Errorf("seed encode scanners: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
INSERT INTO action_points(
  id, name, action_type, location_code, building, floor,
  scanner_fingerprints_json, qr_mode, is_active, created_at_ms
) VALUES ('ap-dev-library', 'Dev Library Gate', 'library_checkout', 'LIB-GATE', 'Library', 'G', ?, 'mode_a', 1, ?);
`, string(scanners), now); err != nil {
		return fmt.Errorf("seed ap-dev-library: %w", err)
	}

	return nil
}
