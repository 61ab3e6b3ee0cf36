package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type QRMode string

const (
	// ModeA points have no printed code; fixed scanners read identity tokens.
	ModeA QRMode = "mode_a"
	// ModeB points carry a printed static payload scanned by phones.
	ModeB QRMode = "mode_b"
)

func (m QRMode) Valid() bool { return m == ModeA || m == ModeB }

// Well-known action types. The set is open; a type is usable once a handler
// is registered for it.
const (
	ActionMessEntry       = "mess_entry"
	ActionLibraryCheckout = "library_checkout"
	ActionAttendanceMark  = "attendance_mark"
	ActionHostelCheckin   = "hostel_checkin"
)

type ActionPoint struct {
	ID                  string       `json:"id" yaml:"id"`
	Name                string       `json:"name,omitempty" yaml:"name"`
	ActionType          string       `json:"action_type" yaml:"action_type"`
	LocationCode        string       `json:"location_code" yaml:"location_code"`
	Building            string       `json:"building,omitempty" yaml:"building"`
	Floor               string       `json:"floor,omitempty" yaml:"floor"`
	Geofence            *Geofence    `json:"geofence,omitempty" yaml:"geofence"`
	TimeWindows         []TimeWindow `json:"allowed_time_windows,omitempty" yaml:"allowed_time_windows"`
	ScannerFingerprints []string     `json:"scanner_fingerprints,omitempty" yaml:"scanner_fingerprints"`
	QRMode              QRMode       `json:"qr_mode" yaml:"qr_mode"`
	IsActive            bool         `json:"is_active" yaml:"-"`
	CreatedAt           time.Time    `json:"created_at" yaml:"-"`
}

func (ap ActionPoint) Validate() error {
	var errs []error
	if strings.TrimSpace(ap.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.ContainsAny(ap.ID, "?&#/ ") || strings.ContainsAny(ap.LocationCode, "?&#/ ") {
		errs = append(errs, errors.New("id and location_code must be URL-safe tokens"))
	}
	if strings.TrimSpace(ap.ActionType) == "" {
		errs = append(errs, errors.New("action_type is required"))
	}
	if strings.TrimSpace(ap.LocationCode) == "" {
		errs = append(errs, errors.New("location_code is required"))
	}
	if !ap.QRMode.Valid() {
		errs = append(errs, fmt.Errorf("qr_mode %q is not mode_a or mode_b", ap.QRMode))
	}
	if ap.Geofence != nil {
		if err := ap.Geofence.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for i, w := range ap.TimeWindows {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("allowed_time_windows[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// InWindow reports whether local falls inside one of the allowed windows.
// A point without windows is always open.
func (ap ActionPoint) InWindow(local time.Time) bool {
	if len(ap.TimeWindows) == 0 {
		return true
	}
	for _, w := range ap.TimeWindows {
		if w.Contains(local) {
			return true
		}
	}
	return false
}

func (ap ActionPoint) AllowsScanner(fingerprint string) bool {
	for _, fp := range ap.ScannerFingerprints {
		if fp == fingerprint {
			return true
		}
	}
	return false
}

const earthRadiusM = 6371008.8

// geoEpsilonM absorbs floating point error so a point computed to be exactly
// on the boundary is accepted.
const geoEpsilonM = 1e-6

type Geofence struct {
	CenterLat float64 `json:"center_lat" yaml:"center_lat"`
	CenterLng float64 `json:"center_lng" yaml:"center_lng"`
	RadiusM   float64 `json:"radius_m" yaml:"radius_m"`
}

func (g Geofence) Validate() error {
	if !ValidCoordinates(g.CenterLat, g.CenterLng) {
		return errors.New("geofence center out of range")
	}
	if g.RadiusM <= 0 {
		return errors.New("geofence radius_m must be positive")
	}
	return nil
}

// Contains returns the great-circle distance to the center and whether it is
// within RadiusM+toleranceM, boundary inclusive. Coordinates outside the valid
// range are never contained.
func (g Geofence) Contains(lat, lng, toleranceM float64) (float64, bool) {
	if !ValidCoordinates(lat, lng) {
		return math.NaN(), false
	}
	d := HaversineM(g.CenterLat, g.CenterLng, lat, lng)
	return d, d <= g.RadiusM+toleranceM+geoEpsilonM
}

// ValidCoordinates reports whether lat is within [-90, 90] and lng within
// [-180, 180]. NaN and infinities are invalid.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineM is the great-circle distance in metres between two points.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// TimeWindow is a weekly recurring interval in campus local time. Start is
// inclusive and End exclusive. A window whose End is before its Start runs
// past midnight and belongs to the day it starts on.
type TimeWindow struct {
	Days  []string `json:"days,omitempty" yaml:"days"` // mon..sun; empty means every day
	Start string   `json:"start" yaml:"start"`         // "HH:MM"
	End   string   `json:"end" yaml:"end"`             // "HH:MM"
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (w TimeWindow) Validate() error {
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if start == end {
		return errors.New("start and end must differ")
	}
	for _, d := range w.Days {
		if _, ok := weekdays[strings.ToLower(d)]; !ok {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	return nil
}

func (w TimeWindow) Contains(local time.Time) bool {
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil || start == end {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	day := local.Weekday()

	if start < end {
		return m >= start && m < end && w.onDay(day)
	}
	// Overnight: the part after midnight counts against the previous day.
	if m >= start {
		return w.onDay(day)
	}
	if m < end {
		return w.onDay((day + 6) % 7)
	}
	return false
}

func (w TimeWindow) onDay(d time.Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, s := range w.Days {
		if wd, ok := weekdays[strings.ToLower(s)]; ok && wd == d {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%q has a bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%q has a bad minute", s)
	}
	return h*60 + m, nil
}
