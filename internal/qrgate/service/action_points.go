package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/payload"
	"github.com/campusops/qrgate/internal/qrgate/qrcode"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type ActionPointService struct {
	store  store.ActionPointStore
	logger *zap.Logger
	now    func() time.Time
}

func NewActionPointService(st store.ActionPointStore, logger *zap.Logger) *ActionPointService {
	return &ActionPointService{store: st, logger: logger, now: time.Now}
}

func (s *ActionPointService) List(ctx context.Context, f store.ActionPointFilter, p types.Page) ([]types.ActionPoint, int, error) {
	return s.store.ListActionPoints(ctx, f, p.Normalize())
}

func (s *ActionPointService) Get(ctx context.Context, id string) (types.ActionPoint, error) {
	ap, err := s.store.GetActionPoint(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ap, ErrActionPointNotFound
	}
	return ap, err
}

// Create stores a new point. New points are active.
func (s *ActionPointService) Create(ctx context.Context, ap types.ActionPoint) (types.ActionPoint, error) {
	ap.IsActive = true
	ap.CreatedAt = s.now().UTC()
	if err := ap.Validate(); err != nil {
		return types.ActionPoint{}, fmt.Errorf("%w: %v", ErrInvalidActionPoint, err)
	}
	err := s.store.CreateActionPoint(ctx, ap)
	if errors.Is(err, store.ErrConflict) {
		return types.ActionPoint{}, ErrActionPointExists
	}
	if err != nil {
		return types.ActionPoint{}, err
	}
	s.logger.Info("action point created",
		zap.String("action_point_id", ap.ID),
		zap.String("action_type", ap.ActionType),
		zap.String("qr_mode", string(ap.QRMode)))
	return ap, nil
}

func (s *ActionPointService) Deactivate(ctx context.Context, id string) error {
	err := s.store.DeactivateActionPoint(ctx, id, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrActionPointNotFound
	}
	if err != nil {
		return err
	}
	s.logger.Info("action point deactivated", zap.String("action_point_id", id))
	return nil
}

// Payload returns the static string printed on a mode_b point.
func (s *ActionPointService) Payload(ctx context.Context, id string) (types.ActionPoint, string, error) {
	ap, err := s.Get(ctx, id)
	if err != nil {
		return ap, "", err
	}
	if ap.QRMode != types.ModeB {
		return ap, "", ErrNotPrintable
	}
	return ap, payload.ForActionPoint(ap), nil
}

// Generate renders the printed code for a mode_b point as a PNG.
func (s *ActionPointService) Generate(ctx context.Context, id string, size int) ([]byte, error) {
	_, content, err := s.Payload(ctx, id)
	if err != nil {
		return nil, err
	}
	return qrcode.PNG(content, size)
}
