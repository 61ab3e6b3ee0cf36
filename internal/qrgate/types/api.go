package types

// HTTP request and response bodies.

type ScanRequest struct {
	ScannedQRData     string   `json:"scanned_qr_data"`
	DeviceFingerprint string   `json:"device_fingerprint"`
	DeviceTrustToken  string   `json:"device_trust_token"`
	GPSLat            *float64 `json:"gps_lat,omitempty"`
	GPSLng            *float64 `json:"gps_lng,omitempty"`
}

type TerminalScanRequest struct {
	ScannedQRData     string `json:"scanned_qr_data"`
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceTrustToken  string `json:"device_trust_token"`
	ActionPointID     string `json:"action_point_id"`
}

type ScanResponse struct {
	Success          bool             `json:"success"`
	Message          string           `json:"message"`
	ValidationResult ValidationResult `json:"validation_result"`
	ActionType       string           `json:"action_type,omitempty"`
	ScanLogID        string           `json:"scan_log_id,omitempty"`
	PersonID         string           `json:"person_id,omitempty"`
}

type DeviceInfo struct {
	Fingerprint string `json:"fingerprint"`
	Platform    string `json:"platform,omitempty"`
	Model       string `json:"model,omitempty"`
	AppVersion  string `json:"app_version,omitempty"`
}

type RegisterRequest struct {
	PhoneNumber string     `json:"phone_number"`
	DeviceInfo  DeviceInfo `json:"device_info"`
}

type RegisterResponse struct {
	VerificationID      string `json:"verification_id"`
	DevMode             bool   `json:"dev_mode"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	MaxPolls            int    `json:"max_polls"`
	InboundNumber       string `json:"inbound_number,omitempty"`
	Message             string `json:"message"`
}

type VerifyStatusResponse struct {
	Status           VerificationStatus `json:"status"`
	DeviceTrustToken string             `json:"device_trust_token,omitempty"`
	TokenExpiresAt   string             `json:"token_expires_at,omitempty"`
	Message          string             `json:"message,omitempty"`
}

type IdentityTokenRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceTrustToken  string `json:"device_trust_token"`
}

type IdentityTokenResponse struct {
	Token      string `json:"token"`
	IssuedAt   string `json:"issued_at"`
	ExpiresAt  string `json:"expires_at"`
	TTLSeconds int    `json:"ttl_seconds"`
}
