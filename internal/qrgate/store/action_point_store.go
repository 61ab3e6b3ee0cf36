package store

import (
	"context"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

type ActionPointFilter struct {
	Active *bool
}

// ActionPointStore persists the action point catalog. Points are immutable
// after creation apart from deactivation.
type ActionPointStore interface {
	CreateActionPoint(ctx context.Context, ap types.ActionPoint) error
	GetActionPoint(ctx context.Context, id string) (types.ActionPoint, error)
	ListActionPoints(ctx context.Context, f ActionPointFilter, p types.Page) ([]types.ActionPoint, int, error)
	DeactivateActionPoint(ctx context.Context, id string, at time.Time) error
}
