// Package catalog loads the action point catalog and per-action policies
// from a YAML file and reconciles it with the action point store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

// Catalog is the parsed file.
//
//	action_points:
//	  - id: ap-mess-1
//	    action_type: mess_entry
//	    location_code: MESS-A
//	    qr_mode: mode_b
//	    geofence: {center_lat: 12.97, center_lng: 77.59, radius_m: 75}
//	    allowed_time_windows:
//	      - {days: [mon, tue], start: "12:00", end: "14:30"}
//	policies:
//	  library_checkout: [stu-1, stu-2]
type Catalog struct {
	ActionPoints []types.ActionPoint
	// Policies restricts an action type to the listed person ids. Action
	// types without an entry are open to everyone.
	Policies map[string][]string
}

type pointSpec struct {
	types.ActionPoint `yaml:",inline"`
	Active            *bool `yaml:"is_active"`
}

type document struct {
	ActionPoints []pointSpec         `yaml:"action_points"`
	Policies     map[string][]string `yaml:"policies"`
}

func Load(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a catalog. Unknown keys are rejected. A point
// without is_active is active.
func Parse(r io.Reader) (Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.ActionPoints))
	out := Catalog{Policies: doc.Policies}
	var errs []error
	for i, spec := range doc.ActionPoints {
		ap := spec.ActionPoint
		ap.IsActive = spec.Active == nil || *spec.Active
		if err := ap.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("action_points[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[ap.ID]; dup {
			errs = append(errs, fmt.Errorf("action_points[%d]: duplicate id %q", i, ap.ID))
			continue
		}
		seen[ap.ID] = struct{}{}
		out.ActionPoints = append(out.ActionPoints, ap)
	}
	if err := errors.Join(errs...); err != nil {
		return Catalog{}, err
	}
	return out, nil
}

type SyncResult struct {
	Created     int
	Deactivated int
	Drifted     int
}

// Sync creates catalog points missing from st and deactivates stored points
// the catalog marks inactive. Points are immutable once stored, so a stored
// point that differs from its catalog entry is only reported.
func Sync(ctx context.Context, c Catalog, st store.ActionPointStore, now time.Time, logger *zap.Logger) (SyncResult, error) {
	var res SyncResult
	for _, ap := range c.ActionPoints {
		existing, err := st.GetActionPoint(ctx, ap.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			ap.CreatedAt = now.UTC()
			if err := st.CreateActionPoint(ctx, ap); err != nil {
				return res, fmt.Errorf("create %s: %w", ap.ID, err)
			}
			res.Created++
			logger.Info("catalog action point created",
				zap.String("action_point_id", ap.ID),
				zap.String("action_type", ap.ActionType))
			continue
		case err != nil:
			return res, fmt.Errorf("get %s: %w", ap.ID, err)
		}

		if !ap.IsActive && existing.IsActive {
			if err := st.DeactivateActionPoint(ctx, ap.ID, now); err != nil {
				return res, fmt.Errorf("deactivate %s: %w", ap.ID, err)
			}
			res.Deactivated++
			logger.Info("catalog action point deactivated", zap.String("action_point_id", ap.ID))
			continue
		}

		if !sameDefinition(existing, ap) {
			res.Drifted++
			logger.Warn("stored action point differs from catalog; keeping stored definition",
				zap.String("action_point_id", ap.ID))
		}
	}
	return res, nil
}

func sameDefinition(stored, want types.ActionPoint) bool {
	stored.CreatedAt, want.CreatedAt = time.Time{}, time.Time{}
	stored.IsActive, want.IsActive = true, true
	if len(stored.TimeWindows) == 0 {
		stored.TimeWindows = nil
	}
	if len(want.TimeWindows) == 0 {
		want.TimeWindows = nil
	}
	if len(stored.ScannerFingerprints) == 0 {
		stored.ScannerFingerprints = nil
	}
	if len(want.ScannerFingerprints) == 0 {
		want.ScannerFingerprints = nil
	}
	return reflect.DeepEqual(stored, want)
}
