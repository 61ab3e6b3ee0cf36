package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type ActionPointStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewActionPointStore(db *sql.DB, writer *dbpkg.Worker) *ActionPointStore {
	return &ActionPointStore{db: db, writer: writer}
}

const actionPointColumns = `
id, name, action_type, location_code, building, floor,
geofence_lat, geofence_lng, geofence_radius_m,
time_windows_json, scanner_fingerprints_json, qr_mode, is_active, created_at_ms`

func scanActionPoint(row rowScanner) (types.ActionPoint, error) {
	var (
		ap        types.ActionPoint
		lat, lng  sql.NullFloat64
		radius    sql.NullFloat64
		windows   sql.NullString
		scanners  sql.NullString
		mode      string
		active    int
		createdMs int64
	)
	err := row.Scan(&ap.ID, &ap.Name, &ap.ActionType, &ap.LocationCode, &ap.Building, &ap.Floor,
		&lat, &lng, &radius, &windows, &scanners, &mode, &active, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ActionPoint{}, store.ErrNotFound
	}
	if err != nil {
		return types.ActionPoint{}, err
	}

	if lat.Valid && lng.Valid && radius.Valid {
		ap.Geofence = &types.Geofence{CenterLat: lat.Float64, CenterLng: lng.Float64, RadiusM: radius.Float64}
	}
	if windows.Valid && windows.String != "" {
		if err := json.Unmarshal([]byte(windows.String), &ap.TimeWindows); err != nil {
			return types.ActionPoint{}, fmt.Errorf("decode time windows for %s: %w", ap.ID, err)
		}
	}
	if scanners.Valid && scanners.String != "" {
		if err := json.Unmarshal([]byte(scanners.String), &ap.ScannerFingerprints); err != nil {
			return types.ActionPoint{}, fmt.Errorf("decode scanners for %s: %w", ap.ID, err)
		}
	}
	ap.QRMode = types.QRMode(mode)
	ap.IsActive = active == 1
	ap.CreatedAt = fromMs(createdMs)
	return ap, nil
}

func jsonColumn[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *ActionPointStore) CreateActionPoint(ctx context.Context, ap types.ActionPoint) error {
	windows, err := jsonColumn(ap.TimeWindows)
	if err != nil {
		return fmt.Errorf("CreateActionPoint encode windows: %w", err)
	}
	scanners, err := jsonColumn(ap.ScannerFingerprints)
	if err != nil {
		return fmt.Errorf("CreateActionPoint encode scanners: %w", err)
	}

	var lat, lng, radius any
	if g := ap.Geofence; g != nil {
		lat, lng, radius = g.CenterLat, g.CenterLng, g.RadiusM
	}
	if ap.CreatedAt.IsZero() {
		ap.CreatedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO action_points(
  id, name, action_type, location_code, building, floor,
  geofence_lat, geofence_lng, geofence_radius_m,
  time_windows_json, scanner_fingerprints_json, qr_mode, is_active, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, ap.ID, ap.Name, ap.ActionType, ap.LocationCode, ap.Building, ap.Floor,
			lat, lng, radius, windows, scanners, string(ap.QRMode), boolInt(ap.IsActive), ms(ap.CreatedAt))
		if err != nil {
			return fmt.Errorf("CreateActionPoint insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrConflict
		}
		return nil
	})
}

func (s *ActionPointStore) GetActionPoint(ctx context.Context, id string) (types.ActionPoint, error) {
	ap, err := scanActionPoint(s.db.QueryRowContext(ctx,
		`SELECT`+actionPointColumns+` FROM action_points WHERE id = ?;`, id))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ap, fmt.Errorf("GetActionPoint query: %w", err)
	}
	return ap, err
}

func (s *ActionPointStore) ListActionPoints(ctx context.Context, f store.ActionPointFilter, p types.Page) ([]types.ActionPoint, int, error) {
	p = p.Normalize()

	where := ""
	var args []any
	if f.Active != nil {
		where = " WHERE is_active = ?"
		args = append(args, boolInt(*f.Active))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_points`+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListActionPoints count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+actionPointColumns+` FROM action_points`+where+` ORDER BY id LIMIT ? OFFSET ?;`,
		append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListActionPoints query: %w", err)
	}
	defer rows.Close()

	var out []types.ActionPoint
	for rows.Next() {
		ap, err := scanActionPoint(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListActionPoints scan: %w", err)
		}
		out = append(out, ap)
	}
	return out, total, rows.Err()
}

func (s *ActionPointStore) DeactivateActionPoint(ctx context.Context, id string, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE action_points
SET is_active = 0, deactivated_at_ms = COALESCE(deactivated_at_ms, ?)
WHERE id = ?;
`, ms(at), id)
		if err != nil {
			return fmt.Errorf("DeactivateActionPoint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}
