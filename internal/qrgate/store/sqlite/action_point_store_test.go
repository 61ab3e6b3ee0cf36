package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/store"
	sqlitestore "github.com/campusops/qrgate/internal/qrgate/store/sqlite"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func TestActionPointStore_RoundTrip(t *testing.T) {
	conn := openTestDB(t)
	aps := sqlitestore.NewActionPointStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	in := types.ActionPoint{
		ID:                  "ap-mess",
		Name:                "Mess Hall",
		ActionType:          types.ActionMessEntry,
		LocationCode:        "MESS-G",
		Building:            "Dining",
		Floor:               "G",
		Geofence:            &types.Geofence{CenterLat: 12.97, CenterLng: 77.59, RadiusM: 60},
		TimeWindows:         []types.TimeWindow{{Days: []string{"mon", "tue"}, Start: "12:00", End: "14:00"}},
		ScannerFingerprints: []string{"term-1"},
		QRMode:              types.ModeB,
		IsActive:            true,
		CreatedAt:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := aps.CreateActionPoint(ctx, in); err != nil {
		t.Fatalf("CreateActionPoint: %v", err)
	}
	if err := aps.CreateActionPoint(ctx, in); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	got, err := aps.GetActionPoint(ctx, "ap-mess")
	if err != nil {
		t.Fatalf("GetActionPoint: %v", err)
	}
	if got.Geofence == nil || got.Geofence.RadiusM != 60 {
		t.Errorf("geofence not round-tripped: %+v", got.Geofence)
	}
	if len(got.TimeWindows) != 1 || got.TimeWindows[0].Start != "12:00" || len(got.TimeWindows[0].Days) != 2 {
		t.Errorf("windows not round-tripped: %+v", got.TimeWindows)
	}
	if len(got.ScannerFingerprints) != 1 || !got.IsActive || got.QRMode != types.ModeB {
		t.Errorf("unexpected point %+v", got)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("created_at %v != %v", got.CreatedAt, in.CreatedAt)
	}
}

func TestActionPointStore_NoGeofenceStaysNil(t *testing.T) {
	conn := openTestDB(t)
	aps := sqlitestore.NewActionPointStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := aps.CreateActionPoint(ctx, types.ActionPoint{
		ID: "ap-lib", ActionType: types.ActionLibraryCheckout, LocationCode: "LIB", QRMode: types.ModeA, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateActionPoint: %v", err)
	}
	got, err := aps.GetActionPoint(ctx, "ap-lib")
	if err != nil {
		t.Fatalf("GetActionPoint: %v", err)
	}
	if got.Geofence != nil || got.TimeWindows != nil {
		t.Errorf("expected no geofence and no windows, got %+v", got)
	}
}

func TestActionPointStore_ListAndDeactivate(t *testing.T) {
	conn := openTestDB(t)
	aps := sqlitestore.NewActionPointStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	for _, id := range []string{"ap-a", "ap-b", "ap-c"} {
		if err := aps.CreateActionPoint(ctx, types.ActionPoint{
			ID: id, ActionType: types.ActionAttendanceMark, LocationCode: "LC-" + id, QRMode: types.ModeB, IsActive: true,
		}); err != nil {
			t.Fatalf("CreateActionPoint %s: %v", id, err)
		}
	}
	if err := aps.DeactivateActionPoint(ctx, "ap-b", time.Now()); err != nil {
		t.Fatalf("DeactivateActionPoint: %v", err)
	}
	if err := aps.DeactivateActionPoint(ctx, "ap-zz", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	active, total, err := aps.ListActionPoints(ctx, store.ActionPointFilter{Active: ptr(true)}, types.Page{})
	if err != nil {
		t.Fatalf("ListActionPoints: %v", err)
	}
	if total != 2 || len(active) != 2 || active[0].ID != "ap-a" || active[1].ID != "ap-c" {
		t.Errorf("unexpected active list total=%d %+v", total, active)
	}

	page, total, err := aps.ListActionPoints(ctx, store.ActionPointFilter{}, types.Page{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("ListActionPoints page 2: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != "ap-c" {
		t.Errorf("unexpected page 2 total=%d %+v", total, page)
	}
}
