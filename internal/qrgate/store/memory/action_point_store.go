package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type ActionPointStore struct {
	mu     sync.RWMutex
	points map[string]types.ActionPoint
}

func NewActionPointStore(seed ...types.ActionPoint) *ActionPointStore {
	s := &ActionPointStore{points: make(map[string]types.ActionPoint, len(seed))}
	for _, ap := range seed {
		s.points[ap.ID] = ap
	}
	return s
}

func (s *ActionPointStore) CreateActionPoint(_ context.Context, ap types.ActionPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[ap.ID]; ok {
		return store.ErrConflict
	}
	s.points[ap.ID] = ap
	return nil
}

func (s *ActionPointStore) GetActionPoint(_ context.Context, id string) (types.ActionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ap, ok := s.points[id]
	if !ok {
		return types.ActionPoint{}, store.ErrNotFound
	}
	return ap, nil
}

func (s *ActionPointStore) ListActionPoints(_ context.Context, f store.ActionPointFilter, p types.Page) ([]types.ActionPoint, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []types.ActionPoint
	for _, ap := range s.points {
		if f.Active != nil && ap.IsActive != *f.Active {
			continue
		}
		all = append(all, ap)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	p = p.Normalize()
	start := min(p.Offset(), len(all))
	end := min(start+p.PageSize, len(all))
	return all[start:end], len(all), nil
}

func (s *ActionPointStore) DeactivateActionPoint(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.points[id]
	if !ok {
		return store.ErrNotFound
	}
	ap.IsActive = false
	s.points[id] = ap
	return nil
}
