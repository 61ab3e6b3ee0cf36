package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/campusops/qrgate/internal/qrgate/payload"
	"github.com/campusops/qrgate/internal/qrgate/qrcode"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type sheetResult struct {
	Rendered int
	Skipped  int
}

var indexHeader = []string{"id", "name", "building", "floor", "location_code", "action_type", "payload", "file"}

// writeSheet renders one PNG per active mode_b point into dir and lists
// them in dir/index.csv. Inactive and mode_a points are skipped.
func writeSheet(dir string, points []types.ActionPoint, size int) (sheetResult, error) {
	var res sheetResult
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "index.csv"))
	if err != nil {
		return res, fmt.Errorf("create index: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(indexHeader); err != nil {
		return res, err
	}

	for _, ap := range points {
		if !ap.IsActive || ap.QRMode != types.ModeB {
			res.Skipped++
			continue
		}
		content := payload.ForActionPoint(ap)
		name := ap.ID + ".png"
		if err := renderFile(filepath.Join(dir, name), content, size); err != nil {
			return res, fmt.Errorf("%s: %w", ap.ID, err)
		}
		if err := cw.Write([]string{ap.ID, ap.Name, ap.Building, ap.Floor, ap.LocationCode, ap.ActionType, content, name}); err != nil {
			return res, err
		}
		res.Rendered++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return res, fmt.Errorf("write index: %w", err)
	}
	return res, f.Close()
}

func renderFile(path, content string, size int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := qrcode.Encode(f, content, size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
