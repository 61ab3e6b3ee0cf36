package types

import (
	"fmt"
	"time"
)

// ValidationResult is the closed set of scan outcomes. Adding a value means
// updating AllResults, and every consumer that switches over it.
type ValidationResult string

const (
	ResultSuccess        ValidationResult = "success"
	ResultDuplicateScan  ValidationResult = "duplicate_scan"
	ResultExpiredToken   ValidationResult = "expired_token"
	ResultDeviceMismatch ValidationResult = "device_mismatch"
	ResultGeoViolation   ValidationResult = "geo_violation"
	ResultTimeViolation  ValidationResult = "time_violation"
	ResultRevokedDevice  ValidationResult = "revoked_device"
	ResultUnauthorized   ValidationResult = "unauthorized"
	ResultInvalidQR      ValidationResult = "invalid_qr"
	ResultNoHandler      ValidationResult = "no_handler"
)

var allResults = []ValidationResult{
	ResultSuccess,
	ResultDuplicateScan,
	ResultExpiredToken,
	ResultDeviceMismatch,
	ResultGeoViolation,
	ResultTimeViolation,
	ResultRevokedDevice,
	ResultUnauthorized,
	ResultInvalidQR,
	ResultNoHandler,
}

// AllResults returns every ValidationResult in display order.
func AllResults() []ValidationResult {
	out := make([]ValidationResult, len(allResults))
	copy(out, allResults)
	return out
}

func (r ValidationResult) Valid() bool {
	for _, v := range allResults {
		if v == r {
			return true
		}
	}
	return false
}

func ParseValidationResult(s string) (ValidationResult, error) {
	r := ValidationResult(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown validation_result %q", s)
	}
	return r, nil
}

// Verdict is the outcome of one scan. Each concrete type carries only the
// fields that matter for its outcome.
type Verdict interface {
	Result() ValidationResult
	// Reason is a short, stable description used as rejection_reason.
	// It is empty for Success.
	Reason() string
	isVerdict()
}

type Success struct {
	ActionType string
}

type DuplicateScan struct {
	Window time.Duration
}

type ExpiredToken struct {
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ScannedAt  time.Time
	FromFuture bool
}

type DeviceMismatch struct {
	Detail string
}

type RevokedDevice struct {
	Expired bool
}

// GeoViolation has DistanceM set only when valid GPS was supplied.
type GeoViolation struct {
	MissingGPS bool
	InvalidGPS bool
	DistanceM  float64
	AllowedM   float64
}

type TimeViolation struct {
	LocalTime time.Time
}

type Unauthorized struct {
	ActionType string
}

type InvalidQR struct {
	Detail string
}

type NoHandler struct {
	ActionType string
}

func (Success) Result() ValidationResult        { return ResultSuccess }
func (DuplicateScan) Result() ValidationResult  { return ResultDuplicateScan }
func (ExpiredToken) Result() ValidationResult   { return ResultExpiredToken }
func (DeviceMismatch) Result() ValidationResult { return ResultDeviceMismatch }
func (RevokedDevice) Result() ValidationResult  { return ResultRevokedDevice }
func (GeoViolation) Result() ValidationResult   { return ResultGeoViolation }
func (TimeViolation) Result() ValidationResult  { return ResultTimeViolation }
func (Unauthorized) Result() ValidationResult   { return ResultUnauthorized }
func (InvalidQR) Result() ValidationResult      { return ResultInvalidQR }
func (NoHandler) Result() ValidationResult      { return ResultNoHandler }

func (Success) Reason() string { return "" }

func (DuplicateScan) Reason() string { return "already recorded within dedup window" }

func (v ExpiredToken) Reason() string {
	if v.FromFuture {
		return "identity token issued in the future"
	}
	return "identity token expired"
}

func (v DeviceMismatch) Reason() string { return v.Detail }

func (v RevokedDevice) Reason() string {
	if v.Expired {
		return "device trust expired"
	}
	return "device revoked"
}

func (v GeoViolation) Reason() string {
	switch {
	case v.MissingGPS:
		return "gps required but missing"
	case v.InvalidGPS:
		return "gps coordinates out of range"
	}
	return "outside geofence"
}

func (TimeViolation) Reason() string { return "outside allowed time windows" }

func (v Unauthorized) Reason() string { return "not permitted for " + v.ActionType }

func (v InvalidQR) Reason() string { return v.Detail }

func (v NoHandler) Reason() string { return "no handler for " + v.ActionType }

func (Success) isVerdict()        {}
func (DuplicateScan) isVerdict()  {}
func (ExpiredToken) isVerdict()   {}
func (DeviceMismatch) isVerdict() {}
func (RevokedDevice) isVerdict()  {}
func (GeoViolation) isVerdict()   {}
func (TimeViolation) isVerdict()  {}
func (Unauthorized) isVerdict()   {}
func (InvalidQR) isVerdict()      {}
func (NoHandler) isVerdict()      {}

// Message is the user-facing text for a verdict.
func Message(v Verdict) string {
	switch v := v.(type) {
	case Success:
		return "Scan accepted"
	case DuplicateScan:
		return "This scan was already recorded"
	case ExpiredToken:
		return "The QR code has expired, refresh and try again"
	case DeviceMismatch:
		return "This device is not registered for this account"
	case RevokedDevice:
		return "This device has been revoked, register it again"
	case GeoViolation:
		if v.MissingGPS {
			return "Location is required for this scan"
		}
		if v.InvalidGPS {
			return "Location could not be read, try again"
		}
		return fmt.Sprintf("You are %.0f m away, move within %.0f m", v.DistanceM, v.AllowedM)
	case TimeViolation:
		return "This action is not available at this time"
	case Unauthorized:
		return "You are not permitted to perform this action"
	case InvalidQR:
		return "Invalid QR code"
	case NoHandler:
		return "This action is not supported"
	default:
		return "Scan rejected"
	}
}
