package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type ScanLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewScanLogStore(db *sql.DB, writer *dbpkg.Worker) *ScanLogStore {
	return &ScanLogStore{db: db, writer: writer}
}

func (s *ScanLogStore) AppendScan(ctx context.Context, e types.ScanLogEntry) error {
	if e.ScannedAt.IsZero() {
		e.ScannedAt = time.Now().UTC()
	}

	var apID any
	if e.ActionPointID != nil {
		apID = *e.ActionPointID
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scan_log(
  id, scanned_at_ms, person_id, scanner_person_id, action_point_id, action_type, qr_mode,
  validation_result, rejection_reason, device_fingerprint, device_validated, geo_validated,
  scan_latitude, scan_longitude, distance_m
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			e.ID, ms(e.ScannedAt), nullString(e.PersonID), nullString(e.ScannerPersonID), apID,
			nullString(e.ActionType), nullString(string(e.QRMode)),
			string(e.Result), nullString(e.RejectionReason), nullString(e.DeviceFingerprint),
			boolInt(e.DeviceValidated), nullBool(e.GeoValidated),
			nullFloat(e.Latitude), nullFloat(e.Longitude), nullFloat(e.DistanceM),
		); err != nil {
			return fmt.Errorf("AppendScan insert: %w", err)
		}
		return nil
	})
}

const scanColumns = `
id, scanned_at_ms, person_id, scanner_person_id, action_point_id, action_type, qr_mode,
validation_result, rejection_reason, device_fingerprint, device_validated, geo_validated,
scan_latitude, scan_longitude, distance_m`

func scanEntry(row rowScanner) (types.ScanLogEntry, error) {
	var (
		e                        types.ScanLogEntry
		scannedMs                int64
		person, scanner, apID    sql.NullString
		actionType, mode, reason sql.NullString
		fingerprint              sql.NullString
		result                   string
		deviceValidated          int
		geoValidated             sql.NullInt64
		lat, lng, distance       sql.NullFloat64
	)
	if err := row.Scan(&e.ID, &scannedMs, &person, &scanner, &apID, &actionType, &mode,
		&result, &reason, &fingerprint, &deviceValidated, &geoValidated,
		&lat, &lng, &distance); err != nil {
		return types.ScanLogEntry{}, err
	}
	e.ScannedAt = fromMs(scannedMs)
	e.PersonID = person.String
	e.ScannerPersonID = scanner.String
	if apID.Valid {
		id := apID.String
		e.ActionPointID = &id
	}
	e.ActionType = actionType.String
	e.QRMode = types.QRMode(mode.String)
	e.Result = types.ValidationResult(result)
	e.RejectionReason = reason.String
	e.DeviceFingerprint = fingerprint.String
	e.DeviceValidated = deviceValidated == 1
	e.GeoValidated = ptrBool(geoValidated)
	e.Latitude = ptrFloat(lat)
	e.Longitude = ptrFloat(lng)
	e.DistanceM = ptrFloat(distance)
	return e, nil
}

func whereClause(f types.ScanLogFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ActionType != "" {
		conds = append(conds, "action_type = ?")
		args = append(args, f.ActionType)
	}
	if f.Result != "" {
		conds = append(conds, "validation_result = ?")
		args = append(args, string(f.Result))
	}
	if f.PersonID != "" {
		conds = append(conds, "person_id = ?")
		args = append(args, f.PersonID)
	}
	if f.From != nil {
		conds = append(conds, "scanned_at_ms >= ?")
		args = append(args, ms(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "scanned_at_ms < ?")
		args = append(args, ms(*f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *ScanLogStore) QueryScans(ctx context.Context, f types.ScanLogFilter, p types.Page) ([]types.ScanLogEntry, int, error) {
	p = p.Normalize()
	where, args := whereClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_log`+where+`;`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("QueryScans count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT`+scanColumns+` FROM scan_log`+where+` ORDER BY scanned_at_ms DESC, id DESC LIMIT ? OFFSET ?;`,
		append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("QueryScans query: %w", err)
	}
	defer rows.Close()

	out := make([]types.ScanLogEntry, 0, p.PageSize)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("QueryScans scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// EachScan walks matches with a live cursor so memory use does not depend
// on how many rows match.
func (s *ScanLogStore) EachScan(ctx context.Context, f types.ScanLogFilter, fn func(types.ScanLogEntry) error) error {
	where, args := whereClause(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+scanColumns+` FROM scan_log`+where+` ORDER BY scanned_at_ms ASC, id ASC;`, args...)
	if err != nil {
		return fmt.Errorf("EachScan query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("EachScan scan: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *ScanLogStore) CountByResult(ctx context.Context, from, to time.Time) (map[types.ValidationResult]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT validation_result, COUNT(*)
FROM scan_log
WHERE scanned_at_ms >= ? AND scanned_at_ms < ?
GROUP BY validation_result;
`, ms(from), ms(to))
	if err != nil {
		return nil, fmt.Errorf("CountByResult query: %w", err)
	}
	defer rows.Close()

	out := make(map[types.ValidationResult]int)
	for rows.Next() {
		var (
			r string
			n int
		)
		if err := rows.Scan(&r, &n); err != nil {
			return nil, fmt.Errorf("CountByResult scan: %w", err)
		}
		out[types.ValidationResult(r)] = n
	}
	return out, rows.Err()
}

func (s *ScanLogStore) CountByReason(ctx context.Context, from, to time.Time) ([]types.ReasonCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT validation_result, COALESCE(rejection_reason, ''), COUNT(*) AS n
FROM scan_log
WHERE scanned_at_ms >= ? AND scanned_at_ms < ? AND validation_result != 'success'
GROUP BY validation_result, COALESCE(rejection_reason, '')
ORDER BY n DESC, validation_result, 2;
`, ms(from), ms(to))
	if err != nil {
		return nil, fmt.Errorf("CountByReason query: %w", err)
	}
	defer rows.Close()

	var out []types.ReasonCount
	for rows.Next() {
		var rc types.ReasonCount
		var r string
		if err := rows.Scan(&r, &rc.Reason, &rc.Count); err != nil {
			return nil, fmt.Errorf("CountByReason scan: %w", err)
		}
		rc.Result = types.ValidationResult(r)
		out = append(out, rc)
	}
	return out, rows.Err()
}
