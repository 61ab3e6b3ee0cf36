package types

import "time"

// ScanChannel identifies which surface submitted a scan.
type ScanChannel string

const (
	// ChannelCamera is a phone scanning a printed mode_b code.
	ChannelCamera ScanChannel = "camera"
	// ChannelTerminal is fixed hardware reading an identity token at a mode_a point.
	ChannelTerminal ScanChannel = "terminal"
)

// ScanInput is everything the validation engine needs for one scan.
type ScanInput struct {
	Channel           ScanChannel
	RawPayload        string
	DeviceFingerprint string
	DeviceTrustToken  string
	ScannerPersonID   string
	ActionPointID     string // terminal channel only
	Latitude          *float64
	Longitude         *float64
	ScannedAt         time.Time
}

// ScanLogEntry is the immutable audit record written for every scan.
type ScanLogEntry struct {
	ID                string           `json:"id"`
	ScannedAt         time.Time        `json:"scanned_at"`
	PersonID          string           `json:"person_id,omitempty"`
	ScannerPersonID   string           `json:"scanner_person_id,omitempty"`
	ActionPointID     *string          `json:"action_point_id"`
	ActionType        string           `json:"action_type,omitempty"`
	QRMode            QRMode           `json:"qr_mode,omitempty"`
	Result            ValidationResult `json:"validation_result"`
	RejectionReason   string           `json:"rejection_reason,omitempty"`
	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	DeviceValidated   bool             `json:"device_validated"`
	GeoValidated      *bool            `json:"geo_validated"`
	Latitude          *float64         `json:"scan_latitude"`
	Longitude         *float64         `json:"scan_longitude"`
	DistanceM         *float64         `json:"distance_m,omitempty"`
}

// ScanLogFilter selects log rows. From is inclusive, To exclusive.
type ScanLogFilter struct {
	ActionType string
	Result     ValidationResult
	PersonID   string
	From       *time.Time
	To         *time.Time
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and clamps PageSize to MaxPageSize.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

type ScanLogPage struct {
	Entries  []ScanLogEntry `json:"results"`
	Total    int            `json:"count"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type ResultCount struct {
	Result ValidationResult `json:"validation_result"`
	Count  int              `json:"count"`
}

type ScanSummary struct {
	PeriodDays  int           `json:"period_days"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Total       int           `json:"total"`
	SuccessRate float64       `json:"success_rate"`
	ByResult    []ResultCount `json:"by_result"`
}

// ReasonCount is one (result, rejection_reason) group.
type ReasonCount struct {
	Result ValidationResult `json:"validation_result"`
	Reason string           `json:"rejection_reason"`
	Count  int              `json:"count"`
}

type AnomalyGroup struct {
	Result        ValidationResult `json:"validation_result"`
	Count         int              `json:"count"`
	PreviousCount int              `json:"previous_count"`
	Spike         bool             `json:"spike"`
	Reasons       []ReasonCount    `json:"reasons"`
}

type AnomalyReport struct {
	PeriodDays      int            `json:"period_days"`
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	TotalNonSuccess int            `json:"total_non_success"`
	Groups          []AnomalyGroup `json:"anomalies"`
}

// ActionEvent is handed to the action handler after a successful scan.
type ActionEvent struct {
	ScanLogID     string    `json:"scan_log_id"`
	PersonID      string    `json:"person_id"`
	ActionPointID string    `json:"action_point_id"`
	ActionType    string    `json:"action_type"`
	LocationCode  string    `json:"location_code"`
	QRMode        QRMode    `json:"qr_mode"`
	Channel       string    `json:"channel"`
	ScannedAt     time.Time `json:"scanned_at"`
}
