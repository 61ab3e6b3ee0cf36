package store

import (
	"context"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/types"
)

// Promotion is the atomic completion of a pending verification attempt.
type Promotion struct {
	VerificationID string
	Record         types.DeviceTrustRecord
	Token          string
	At             time.Time
}

// DeviceStore owns verification attempts and device trust records.
// Reads must reflect every committed write; implementations must not cache
// trust state.
type DeviceStore interface {
	CreateAttempt(ctx context.Context, a types.VerificationAttempt) error
	GetAttempt(ctx context.Context, verificationID string) (types.VerificationAttempt, error)
	// LatestPendingByPhone returns the newest pending attempt for phone
	// created at or after since.
	LatestPendingByPhone(ctx context.Context, phone string, since time.Time) (types.VerificationAttempt, error)
	// FinishAttempt moves a pending attempt to a terminal non-active status.
	// It returns ErrAttemptNotPending if the attempt already left pending.
	FinishAttempt(ctx context.Context, verificationID string, status types.VerificationStatus, message string, at time.Time) error
	// Promote supersedes any unrevoked record for the same (person, device),
	// inserts p.Record and marks the attempt active with p.Token parked for
	// delivery, all in one transaction. It returns ErrAttemptNotPending if
	// the attempt already left pending.
	Promote(ctx context.Context, p Promotion) error
	// TakeToken returns the parked token once and clears it.
	TakeToken(ctx context.Context, verificationID string) (token string, expiresAt *time.Time, err error)
	TimeoutStale(ctx context.Context, createdBefore, at time.Time) (int64, error)
	// PurgeFinished deletes terminal attempts created before createdBefore.
	// An uncollected parked token goes with its attempt.
	PurgeFinished(ctx context.Context, createdBefore time.Time) (int64, error)

	GetRecordByTokenID(ctx context.Context, tokenID string) (types.DeviceTrustRecord, error)
	ListRecords(ctx context.Context, personID string) ([]types.DeviceTrustRecord, error)
	// RevokeRecords revokes every unrevoked record for the pair and returns
	// how many changed.
	RevokeRecords(ctx context.Context, personID, fingerprint, reason string, at time.Time) (int64, error)
	RevokeExpired(ctx context.Context, now time.Time) (int64, error)
}
