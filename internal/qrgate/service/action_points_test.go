package service_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/payload"
	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/store/memory"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func newTestActionPoints() *service.ActionPointService {
	return service.NewActionPointService(memory.NewActionPointStore(testPoints()...), zap.NewNop())
}

func TestActionPoints_Create(t *testing.T) {
	svc := newTestActionPoints()
	ctx := context.Background()

	ap, err := svc.Create(ctx, types.ActionPoint{
		ID: "ap-gym", ActionType: "gym_entry", LocationCode: "GYM", QRMode: types.ModeB,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ap.IsActive || ap.CreatedAt.IsZero() {
		t.Errorf("expected active point with created_at, got %+v", ap)
	}

	_, err = svc.Create(ctx, types.ActionPoint{ID: "ap-gym", ActionType: "gym_entry", LocationCode: "GYM", QRMode: types.ModeB})
	if !errors.Is(err, service.ErrActionPointExists) {
		t.Errorf("expected ErrActionPointExists, got %v", err)
	}

	_, err = svc.Create(ctx, types.ActionPoint{ID: "ap bad", ActionType: "gym_entry", LocationCode: "GYM", QRMode: "mode_z"})
	if !errors.Is(err, service.ErrInvalidActionPoint) {
		t.Errorf("expected ErrInvalidActionPoint, got %v", err)
	}
}

func TestActionPoints_ListActiveOnly(t *testing.T) {
	svc := newTestActionPoints()
	active := true

	points, total, err := svc.List(context.Background(), store.ActionPointFilter{Active: &active}, types.Page{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 || len(points) != 4 {
		t.Errorf("expected 4 active points, got total=%d len=%d", total, len(points))
	}
}

func TestActionPoints_GenerateRoundTrip(t *testing.T) {
	svc := newTestActionPoints()
	ctx := context.Background()

	_, content, err := svc.Payload(ctx, "ap-mess")
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	p, err := payload.Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Action.ActionPointID != "ap-mess" || p.Action.LocationCode != "MESS-N" || p.Action.ActionType != types.ActionMessEntry {
		t.Errorf("round trip mismatch: %+v", p.Action)
	}

	png, err := svc.Generate(ctx, "ap-mess", 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG output")
	}

	if _, err := svc.Generate(ctx, "ap-lib", 256); !errors.Is(err, service.ErrNotPrintable) {
		t.Errorf("expected ErrNotPrintable for a mode_a point, got %v", err)
	}
	if _, err := svc.Generate(ctx, "ap-nope", 256); !errors.Is(err, service.ErrActionPointNotFound) {
		t.Errorf("expected ErrActionPointNotFound, got %v", err)
	}
}

func TestActionPoints_Deactivate(t *testing.T) {
	svc := newTestActionPoints()
	ctx := context.Background()

	if err := svc.Deactivate(ctx, "ap-lecture"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	ap, err := svc.Get(ctx, "ap-lecture")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ap.IsActive {
		t.Error("expected inactive after Deactivate")
	}
	if err := svc.Deactivate(ctx, "ap-nope"); !errors.Is(err, service.ErrActionPointNotFound) {
		t.Errorf("expected ErrActionPointNotFound, got %v", err)
	}
}
