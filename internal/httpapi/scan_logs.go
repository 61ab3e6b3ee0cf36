package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

const dateLayout = "2006-01-02"

// parseScanFilter reads the scan log query parameters. date_to given as a
// bare date covers that whole day.
func parseScanFilter(q url.Values) (types.ScanLogFilter, error) {
	f := types.ScanLogFilter{
		ActionType: strings.TrimSpace(q.Get("action_type")),
		PersonID:   strings.TrimSpace(q.Get("user_id")),
	}

	if v := q.Get("validation_result"); v != "" {
		res, err := types.ParseValidationResult(v)
		if err != nil {
			return f, err
		}
		f.Result = res
	}

	if v := q.Get("date_from"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("date_from: %w", err)
		}
		f.From = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("date_to: %w", err)
		}
		if dateOnly {
			t = t.Add(24 * time.Hour)
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, errors.New("date_to is before date_from")
	}
	return f, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, errors.New("expected YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), false, nil
}

func parsePage(q url.Values) (types.Page, error) {
	var p types.Page
	var err error
	if v := q.Get("page"); v != "" {
		if p.Page, err = strconv.Atoi(v); err != nil || p.Page < 1 {
			return p, errors.New("page must be a positive integer")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if p.PageSize, err = strconv.Atoi(v); err != nil || p.PageSize < 1 {
			return p, errors.New("page_size must be a positive integer")
		}
	}
	return p, nil
}

func parsePeriod(q url.Values) (int, error) {
	v := q.Get("period_days")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New("period_days must be a positive integer")
	}
	return n, nil
}

func (s *Server) handleScanLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := parseScanFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_filter", err.Error())
		return
	}
	p, err := parsePage(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_page", err.Error())
		return
	}

	page, err := s.scanLogs.Query(r.Context(), f, p)
	if err != nil {
		s.writeServiceError(w, r, "scan log query", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleScanSummary(w http.ResponseWriter, r *http.Request) {
	days, err := parsePeriod(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_period", err.Error())
		return
	}
	sum, err := s.scanLogs.Summary(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, r, "scan summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	days, err := parsePeriod(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_period", err.Error())
		return
	}
	rep, err := s.scanLogs.Anomalies(r.Context(), days)
	if err != nil {
		s.writeServiceError(w, r, "anomalies", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleExport streams CSV. Once the first row is out the status is fixed,
// so a mid-stream failure can only be logged.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseScanFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_filter", err.Error())
		return
	}

	name := fmt.Sprintf("scan-logs-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)

	if err := s.scanLogs.Export(r.Context(), f, w); err != nil {
		s.logger.Error("scan log export aborted",
			zap.String("request_id", requestID(r)),
			zap.Error(err))
	}
}
