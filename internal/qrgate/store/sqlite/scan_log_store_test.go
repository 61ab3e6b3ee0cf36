package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlitestore "github.com/campusops/qrgate/internal/qrgate/store/sqlite"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func entry(i int, r types.ValidationResult, reason string) types.ScanLogEntry {
	e := types.ScanLogEntry{
		ID:                fmt.Sprintf("01HZZZZZZZZZZZZZZZZZZZZ%03d", i),
		ScannedAt:         base.Add(time.Duration(i) * time.Minute),
		PersonID:          "stu-1",
		ActionPointID:     ptr("ap-mess"),
		ActionType:        types.ActionMessEntry,
		QRMode:            types.ModeB,
		Result:            r,
		RejectionReason:   reason,
		DeviceFingerprint: "fp-1",
		DeviceValidated:   r != types.ResultDeviceMismatch,
	}
	if i%2 == 0 {
		e.PersonID = "stu-2"
	}
	return e
}

func seedScans(t *testing.T, s *sqlitestore.ScanLogStore) {
	t.Helper()
	ctx := context.Background()
	rows := []types.ScanLogEntry{
		entry(1, types.ResultSuccess, ""),
		entry(2, types.ResultGeoViolation, "outside geofence"),
		entry(3, types.ResultGeoViolation, "outside geofence"),
		entry(4, types.ResultGeoViolation, "gps required but missing"),
		entry(5, types.ResultDuplicateScan, "already recorded within dedup window"),
		entry(6, types.ResultSuccess, ""),
	}
	for _, e := range rows {
		if err := s.AppendScan(ctx, e); err != nil {
			t.Fatalf("AppendScan %s: %v", e.ID, err)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// AppendScan — column values
// ═══════════════════════════════════════════════════════════════════════════

func TestScanLogStore_AppendScan_NullableColumns(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewScanLogStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	lat, lng, dist := 12.5, 77.25, 81.2
	geo := false
	if err := s.AppendScan(ctx, types.ScanLogEntry{
		ID: "01HAAAAAAAAAAAAAAAAAAAAAAA", ScannedAt: base, PersonID: "stu-1",
		ActionPointID: ptr("ap-mess"), ActionType: types.ActionMessEntry, QRMode: types.ModeB,
		Result: types.ResultGeoViolation, RejectionReason: "outside geofence",
		DeviceValidated: true, GeoValidated: &geo, Latitude: &lat, Longitude: &lng, DistanceM: &dist,
	}); err != nil {
		t.Fatalf("AppendScan: %v", err)
	}
	if err := s.AppendScan(ctx, types.ScanLogEntry{
		ID: "01HAAAAAAAAAAAAAAAAAAAAAAB", ScannedAt: base.Add(time.Second),
		Result: types.ResultInvalidQR, RejectionReason: "unrecognised payload",
	}); err != nil {
		t.Fatalf("AppendScan invalid: %v", err)
	}

	rows, total, err := s.QueryScans(ctx, types.ScanLogFilter{}, types.Page{})
	if err != nil {
		t.Fatalf("QueryScans: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 rows, got %d", total)
	}

	invalid, geoRow := rows[0], rows[1]
	if invalid.ActionPointID != nil || invalid.GeoValidated != nil || invalid.Latitude != nil {
		t.Errorf("invalid_qr row should have null context: %+v", invalid)
	}
	if geoRow.GeoValidated == nil || *geoRow.GeoValidated {
		t.Errorf("geo_validated should be false: %+v", geoRow.GeoValidated)
	}
	if geoRow.DistanceM == nil || *geoRow.DistanceM != dist || *geoRow.Latitude != lat {
		t.Errorf("coordinates not round-tripped: %+v", geoRow)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// QueryScans — filters and paging
// ═══════════════════════════════════════════════════════════════════════════

func TestScanLogStore_QueryScans_Filters(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewScanLogStore(conn, newTestWriter(t, conn))
	seedScans(t, s)
	ctx := context.Background()

	rows, total, err := s.QueryScans(ctx, types.ScanLogFilter{Result: types.ResultGeoViolation}, types.Page{})
	if err != nil {
		t.Fatalf("QueryScans: %v", err)
	}
	if total != 3 || len(rows) != 3 {
		t.Errorf("expected 3 geo violations, got total=%d len=%d", total, len(rows))
	}
	if rows[0].ID != entry(4, "", "").ID {
		t.Errorf("expected newest first, got %s", rows[0].ID)
	}

	from := base.Add(2 * time.Minute)
	to := base.Add(5 * time.Minute)
	_, total, err = s.QueryScans(ctx, types.ScanLogFilter{PersonID: "stu-2", From: &from, To: &to}, types.Page{})
	if err != nil {
		t.Fatalf("QueryScans range: %v", err)
	}
	if total != 2 { // entries 2 and 4; 5 is outside [from, to) and belongs to stu-1 anyway
		t.Errorf("expected 2 rows for stu-2 in range, got %d", total)
	}

	page, total, err := s.QueryScans(ctx, types.ScanLogFilter{}, types.Page{Page: 2, PageSize: 4})
	if err != nil {
		t.Fatalf("QueryScans page: %v", err)
	}
	if total != 6 || len(page) != 2 {
		t.Errorf("expected page 2 of 6 to have 2 rows, got total=%d len=%d", total, len(page))
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Aggregates
// ═══════════════════════════════════════════════════════════════════════════

func TestScanLogStore_CountsReconcileWithLog(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewScanLogStore(conn, newTestWriter(t, conn))
	seedScans(t, s)
	ctx := context.Background()

	from, to := base, base.Add(time.Hour)

	byResult, err := s.CountByResult(ctx, from, to)
	if err != nil {
		t.Fatalf("CountByResult: %v", err)
	}
	if byResult[types.ResultSuccess] != 2 || byResult[types.ResultGeoViolation] != 3 || byResult[types.ResultDuplicateScan] != 1 {
		t.Errorf("unexpected counts %v", byResult)
	}

	reasons, err := s.CountByReason(ctx, from, to)
	if err != nil {
		t.Fatalf("CountByReason: %v", err)
	}
	sum := 0
	for _, rc := range reasons {
		sum += rc.Count
	}
	if sum != 4 {
		t.Errorf("reason groups should sum to the 4 non-success rows, got %d", sum)
	}
	if reasons[0].Result != types.ResultGeoViolation || reasons[0].Reason != "outside geofence" || reasons[0].Count != 2 {
		t.Errorf("unexpected top group %+v", reasons[0])
	}
}

func TestScanLogStore_EachScan_StreamsOldestFirst(t *testing.T) {
	conn := openTestDB(t)
	s := sqlitestore.NewScanLogStore(conn, newTestWriter(t, conn))
	seedScans(t, s)

	var ids []string
	err := s.EachScan(context.Background(), types.ScanLogFilter{ActionType: types.ActionMessEntry}, func(e types.ScanLogEntry) error {
		ids = append(ids, e.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("EachScan: %v", err)
	}
	if len(ids) != 6 || ids[0] != entry(1, "", "").ID {
		t.Errorf("unexpected order %v", ids)
	}

	stop := errors.New("stop")
	n := 0
	err = s.EachScan(context.Background(), types.ScanLogFilter{}, func(types.ScanLogEntry) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Errorf("expected early stop after 2 rows, got n=%d err=%v", n, err)
	}
}
