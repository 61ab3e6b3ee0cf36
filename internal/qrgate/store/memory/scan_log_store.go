package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// ScanLogStore is an in-memory append-only scan log for tests and dev.
type ScanLogStore struct {
	mu      sync.RWMutex
	entries []types.ScanLogEntry
}

func NewScanLogStore() *ScanLogStore {
	return &ScanLogStore{}
}

func (s *ScanLogStore) AppendScan(_ context.Context, e types.ScanLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of every entry in insertion order. Test-only helper.
func (s *ScanLogStore) Entries() []types.ScanLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ScanLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *ScanLogStore) QueryScans(_ context.Context, f types.ScanLogFilter, p types.Page) ([]types.ScanLogEntry, int, error) {
	matches := s.matching(f)
	sort.SliceStable(matches, func(i, j int) bool { return newer(matches[i], matches[j]) })

	p = p.Normalize()
	start := min(p.Offset(), len(matches))
	end := min(start+p.PageSize, len(matches))
	return matches[start:end], len(matches), nil
}

func (s *ScanLogStore) EachScan(ctx context.Context, f types.ScanLogFilter, fn func(types.ScanLogEntry) error) error {
	matches := s.matching(f)
	sort.SliceStable(matches, func(i, j int) bool { return newer(matches[j], matches[i]) })
	for _, e := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScanLogStore) CountByResult(_ context.Context, from, to time.Time) (map[types.ValidationResult]int, error) {
	out := make(map[types.ValidationResult]int)
	for _, e := range s.matching(types.ScanLogFilter{From: &from, To: &to}) {
		out[e.Result]++
	}
	return out, nil
}

func (s *ScanLogStore) CountByReason(_ context.Context, from, to time.Time) ([]types.ReasonCount, error) {
	type key struct {
		r      types.ValidationResult
		reason string
	}
	counts := make(map[key]int)
	for _, e := range s.matching(types.ScanLogFilter{From: &from, To: &to}) {
		if e.Result == types.ResultSuccess {
			continue
		}
		counts[key{e.Result, e.RejectionReason}]++
	}

	out := make([]types.ReasonCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, types.ReasonCount{Result: k.r, Reason: k.reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Result != out[j].Result {
			return out[i].Result < out[j].Result
		}
		return out[i].Reason < out[j].Reason
	})
	return out, nil
}

func (s *ScanLogStore) matching(f types.ScanLogFilter) []types.ScanLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ScanLogEntry
	for _, e := range s.entries {
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		if f.Result != "" && e.Result != f.Result {
			continue
		}
		if f.PersonID != "" && e.PersonID != f.PersonID {
			continue
		}
		if f.From != nil && e.ScannedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.ScannedAt.Before(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func newer(a, b types.ScanLogEntry) bool {
	if !a.ScannedAt.Equal(b.ScannedAt) {
		return a.ScannedAt.After(b.ScannedAt)
	}
	return a.ID > b.ID
}
