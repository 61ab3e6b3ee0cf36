package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

const (
	DefaultPeriodDays = 7
	MaxPeriodDays     = 366
	exportFlushEvery  = 100
)

type AnomalyConfig struct {
	// SpikeFactor flags a result whose count is at least this multiple of
	// the previous period's count.
	SpikeFactor float64
	// MinCount is the smallest count that can be flagged.
	MinCount int
}

type ScanLogService struct {
	store   store.ScanLogStore
	anomaly AnomalyConfig
	now     func() time.Time
}

func NewScanLogService(st store.ScanLogStore, cfg AnomalyConfig) *ScanLogService {
	if cfg.SpikeFactor <= 0 {
		cfg.SpikeFactor = 2.0
	}
	if cfg.MinCount <= 0 {
		cfg.MinCount = 10
	}
	return &ScanLogService{store: st, anomaly: cfg, now: time.Now}
}

func (s *ScanLogService) Query(ctx context.Context, f types.ScanLogFilter, p types.Page) (types.ScanLogPage, error) {
	p = p.Normalize()
	entries, total, err := s.store.QueryScans(ctx, f, p)
	if err != nil {
		return types.ScanLogPage{}, err
	}
	if entries == nil {
		entries = []types.ScanLogEntry{}
	}
	return types.ScanLogPage{Entries: entries, Total: total, Page: p.Page, PageSize: p.PageSize}, nil
}

func clampPeriod(days int) int {
	if days <= 0 {
		return DefaultPeriodDays
	}
	return min(days, MaxPeriodDays)
}

func (s *ScanLogService) period(days int) (int, time.Time, time.Time) {
	days = clampPeriod(days)
	to := s.now().UTC()
	return days, to.AddDate(0, 0, -days), to
}

// Summary counts every result in the taxonomy over the last periodDays,
// including those with no rows.
func (s *ScanLogService) Summary(ctx context.Context, periodDays int) (types.ScanSummary, error) {
	days, from, to := s.period(periodDays)
	counts, err := s.store.CountByResult(ctx, from, to)
	if err != nil {
		return types.ScanSummary{}, err
	}

	sum := types.ScanSummary{PeriodDays: days, From: from, To: to}
	for _, r := range types.AllResults() {
		n := counts[r]
		sum.ByResult = append(sum.ByResult, types.ResultCount{Result: r, Count: n})
		sum.Total += n
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(counts[types.ResultSuccess]) / float64(sum.Total)
	}
	return sum, nil
}

// Anomalies groups non-success scans of the last periodDays by result and
// reason, and compares each result with the period before.
func (s *ScanLogService) Anomalies(ctx context.Context, periodDays int) (types.AnomalyReport, error) {
	days, from, to := s.period(periodDays)
	reasons, err := s.store.CountByReason(ctx, from, to)
	if err != nil {
		return types.AnomalyReport{}, err
	}
	previous, err := s.store.CountByResult(ctx, from.AddDate(0, 0, -days), from)
	if err != nil {
		return types.AnomalyReport{}, err
	}

	groups := make(map[types.ValidationResult]*types.AnomalyGroup)
	report := types.AnomalyReport{PeriodDays: days, From: from, To: to, Groups: []types.AnomalyGroup{}}
	for _, rc := range reasons {
		g, ok := groups[rc.Result]
		if !ok {
			g = &types.AnomalyGroup{Result: rc.Result}
			groups[rc.Result] = g
		}
		g.Count += rc.Count
		g.Reasons = append(g.Reasons, rc)
		report.TotalNonSuccess += rc.Count
	}

	for _, r := range types.AllResults() {
		g, ok := groups[r]
		if !ok {
			continue
		}
		g.PreviousCount = previous[r]
		g.Spike = g.Count >= s.anomaly.MinCount &&
			float64(g.Count) >= s.anomaly.SpikeFactor*float64(g.PreviousCount)
		sort.SliceStable(g.Reasons, func(i, j int) bool { return g.Reasons[i].Count > g.Reasons[j].Count })
		report.Groups = append(report.Groups, *g)
	}
	sort.SliceStable(report.Groups, func(i, j int) bool { return report.Groups[i].Count > report.Groups[j].Count })
	return report, nil
}

var exportHeader = []string{
	"id", "scanned_at", "person_id", "scanner_person_id", "action_point_id", "action_type",
	"qr_mode", "validation_result", "rejection_reason", "device_fingerprint",
	"device_validated", "geo_validated", "scan_latitude", "scan_longitude", "distance_m",
}

// Export streams matching rows as CSV, oldest first.
func (s *ScanLogService) Export(ctx context.Context, f types.ScanLogFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	n := 0
	err := s.store.EachScan(ctx, f, func(e types.ScanLogEntry) error {
		if err := cw.Write(csvRow(e)); err != nil {
			return err
		}
		n++
		if n%exportFlushEvery == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			if fl, ok := w.(interface{ Flush() }); ok {
				fl.Flush()
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export scans: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(e types.ScanLogEntry) []string {
	return []string{
		e.ID,
		e.ScannedAt.UTC().Format(time.RFC3339Nano),
		e.PersonID,
		e.ScannerPersonID,
		strOrEmpty(e.ActionPointID),
		e.ActionType,
		string(e.QRMode),
		string(e.Result),
		e.RejectionReason,
		e.DeviceFingerprint,
		strconv.FormatBool(e.DeviceValidated),
		boolOrEmpty(e.GeoValidated),
		floatOrEmpty(e.Latitude),
		floatOrEmpty(e.Longitude),
		floatOrEmpty(e.DistanceM),
	}
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolOrEmpty(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
