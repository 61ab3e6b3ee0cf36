package types

import "time"

const (
	RevokeExplicit   = "explicit"
	RevokeExpired    = "expired"
	RevokeSuperseded = "superseded"
)

// DeviceTrustRecord binds a verified device to a person. Records are never
// deleted; revocation is a state change.
type DeviceTrustRecord struct {
	ID                int64      `json:"-"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	PersonID          string     `json:"person_id"`
	TokenID           string     `json:"-"`
	IssuedAt          time.Time  `json:"issued_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	Revoked           bool       `json:"revoked"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokeReason      string     `json:"revoke_reason,omitempty"`
}

// IsActive reports whether the record is unrevoked and unexpired at now.
func (r DeviceTrustRecord) IsActive(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusActive   VerificationStatus = "active"
	StatusFailed   VerificationStatus = "failed"
	StatusTimedOut VerificationStatus = "timed_out"
)

func (s VerificationStatus) Terminal() bool { return s != StatusPending }

// VerificationAttempt tracks one registration from start until it is
// promoted, fails, or times out.
type VerificationAttempt struct {
	VerificationID    string
	PersonID          string
	PhoneNumber       string
	DeviceFingerprint string
	Status            VerificationStatus
	DevMode           bool
	Message           string
	CreatedAt         time.Time
	CompletedAt       *time.Time

	// PendingToken holds the device trust token between promotion and the
	// first status poll that picks it up. It is cleared on delivery.
	PendingToken   string
	TokenExpiresAt *time.Time
	Delivered      bool
}
