package store

import (
	"context"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// ScanLogStore is the append-only scan audit log. Aggregates are computed
// from the same rows the queries return, so counts always reconcile.
type ScanLogStore interface {
	AppendScan(ctx context.Context, e types.ScanLogEntry) error
	// QueryScans returns one page, newest first, and the total match count.
	QueryScans(ctx context.Context, f types.ScanLogFilter, p types.Page) ([]types.ScanLogEntry, int, error)
	// EachScan streams every match oldest first. Returning an error from fn
	// stops the iteration and is returned.
	EachScan(ctx context.Context, f types.ScanLogFilter, fn func(types.ScanLogEntry) error) error
	CountByResult(ctx context.Context, from, to time.Time) (map[types.ValidationResult]int, error)
	// CountByReason groups non-success rows by (result, rejection_reason).
	CountByReason(ctx context.Context, from, to time.Time) ([]types.ReasonCount, error)
}
