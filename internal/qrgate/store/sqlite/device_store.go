package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/campusops/qrgate/internal/db"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

const attemptColumns = `
verification_id, person_id, phone_number, device_fingerprint, status, dev_mode,
message, created_at_ms, completed_at_ms, pending_token, token_expires_at_ms, delivered`

func scanAttempt(row rowScanner) (types.VerificationAttempt, error) {
	var (
		a           types.VerificationAttempt
		status      string
		devMode     int
		delivered   int
		message     sql.NullString
		token       sql.NullString
		createdMs   int64
		completedMs sql.NullInt64
		tokenExpMs  sql.NullInt64
	)
	err := row.Scan(
		&a.VerificationID, &a.PersonID, &a.PhoneNumber, &a.DeviceFingerprint, &status, &devMode,
		&message, &createdMs, &completedMs, &token, &tokenExpMs, &delivered,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.VerificationAttempt{}, store.ErrNotFound
	}
	if err != nil {
		return types.VerificationAttempt{}, err
	}
	a.Status = types.VerificationStatus(status)
	a.DevMode = devMode == 1
	a.Delivered = delivered == 1
	a.Message = message.String
	a.PendingToken = token.String
	a.CreatedAt = fromMs(createdMs)
	a.CompletedAt = ptrMs(completedMs)
	a.TokenExpiresAt = ptrMs(tokenExpMs)
	return a, nil
}

func (s *DeviceStore) CreateAttempt(ctx context.Context, a types.VerificationAttempt) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO verification_attempts(
  verification_id, person_id, phone_number, device_fingerprint, status, dev_mode, message, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, a.VerificationID, a.PersonID, a.PhoneNumber, a.DeviceFingerprint, string(a.Status),
			boolInt(a.DevMode), nullString(a.Message), ms(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("CreateAttempt insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrConflict
		}
		return nil
	})
}

func (s *DeviceStore) GetAttempt(ctx context.Context, id string) (types.VerificationAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT`+attemptColumns+` FROM verification_attempts WHERE verification_id = ?;`, id))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return a, fmt.Errorf("GetAttempt query: %w", err)
	}
	return a, err
}

func (s *DeviceStore) LatestPendingByPhone(ctx context.Context, phone string, since time.Time) (types.VerificationAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `
SELECT`+attemptColumns+`
FROM verification_attempts
WHERE phone_number = ? AND status = 'pending' AND created_at_ms >= ?
ORDER BY created_at_ms DESC
LIMIT 1;
`, phone, ms(since)))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return a, fmt.Errorf("LatestPendingByPhone query: %w", err)
	}
	return a, err
}

func (s *DeviceStore) FinishAttempt(ctx context.Context, id string, status types.VerificationStatus, message string, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return finishPending(ctx, tx, id, string(status), message, at)
	})
}

// finishPending transitions a pending attempt, distinguishing a missing
// attempt from one that already finished.
func finishPending(ctx context.Context, tx *sql.Tx, id, status, message string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
UPDATE verification_attempts
SET status = ?, message = ?, completed_at_ms = ?
WHERE verification_id = ? AND status = 'pending';
`, status, nullString(message), ms(at), id)
	if err != nil {
		return fmt.Errorf("finish attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT status FROM verification_attempts WHERE verification_id = ?;`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("finish attempt %s lookup: %w", id, err)
	}
	return store.ErrAttemptNotPending
}

func (s *DeviceStore) Promote(ctx context.Context, p store.Promotion) error {
	rec := p.Record
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := finishPending(ctx, tx, p.VerificationID, string(types.StatusActive), "", p.At); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE device_trust_records
SET revoked = 1, revoked_at_ms = ?, revoke_reason = ?
WHERE person_id = ? AND device_fingerprint = ? AND revoked = 0;
`, ms(p.At), types.RevokeSuperseded, rec.PersonID, rec.DeviceFingerprint); err != nil {
			return fmt.Errorf("Promote supersede: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO device_trust_records(
  device_fingerprint, person_id, token_id, issued_at_ms, expires_at_ms, revoked
) VALUES (?, ?, ?, ?, ?, 0);
`, rec.DeviceFingerprint, rec.PersonID, rec.TokenID, ms(rec.IssuedAt), ms(rec.ExpiresAt)); err != nil {
			return fmt.Errorf("Promote insert record: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE verification_attempts
SET pending_token = ?, token_expires_at_ms = ?
WHERE verification_id = ?;
`, p.Token, ms(rec.ExpiresAt), p.VerificationID); err != nil {
			return fmt.Errorf("Promote park token: %w", err)
		}
		return nil
	})
}

func (s *DeviceStore) TakeToken(ctx context.Context, id string) (string, *time.Time, error) {
	var (
		token string
		exp   *time.Time
	)
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			tok   sql.NullString
			expMs sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, `
SELECT pending_token, token_expires_at_ms FROM verification_attempts WHERE verification_id = ?;
`, id).Scan(&tok, &expMs)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("TakeToken select: %w", err)
		}
		exp = ptrMs(expMs)
		if !tok.Valid || tok.String == "" {
			return nil
		}
		token = tok.String
		if _, err := tx.ExecContext(ctx, `
UPDATE verification_attempts SET pending_token = NULL, delivered = 1 WHERE verification_id = ?;
`, id); err != nil {
			return fmt.Errorf("TakeToken clear: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return token, exp, nil
}

func (s *DeviceStore) TimeoutStale(ctx context.Context, createdBefore, at time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE verification_attempts
SET status = 'timed_out', message = 'verification timed out', completed_at_ms = ?
WHERE status = 'pending' AND created_at_ms < ?;
`, ms(at), ms(createdBefore))
		if err != nil {
			return fmt.Errorf("TimeoutStale: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// PurgeFinished deletes terminal attempts created before the cutoff, along
// with any token that was parked for delivery and never collected.
func (s *DeviceStore) PurgeFinished(ctx context.Context, createdBefore time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM verification_attempts
WHERE status != 'pending' AND created_at_ms < ?;
`, ms(createdBefore))
		if err != nil {
			return fmt.Errorf("PurgeFinished: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

const recordColumns = `
id, device_fingerprint, person_id, token_id, issued_at_ms, expires_at_ms, revoked, revoked_at_ms, revoke_reason`

func scanRecord(row rowScanner) (types.DeviceTrustRecord, error) {
	var (
		r         types.DeviceTrustRecord
		issuedMs  int64
		expiresMs int64
		revoked   int
		revokedMs sql.NullInt64
		reason    sql.NullString
	)
	err := row.Scan(&r.ID, &r.DeviceFingerprint, &r.PersonID, &r.TokenID,
		&issuedMs, &expiresMs, &revoked, &revokedMs, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DeviceTrustRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.DeviceTrustRecord{}, err
	}
	r.IssuedAt = fromMs(issuedMs)
	r.ExpiresAt = fromMs(expiresMs)
	r.Revoked = revoked == 1
	r.RevokedAt = ptrMs(revokedMs)
	r.RevokeReason = reason.String
	return r, nil
}

// GetRecordByTokenID always reads the committed row; there is no cache in
// front of it, so a revoke is visible to the very next lookup.
func (s *DeviceStore) GetRecordByTokenID(ctx context.Context, tokenID string) (types.DeviceTrustRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT`+recordColumns+` FROM device_trust_records WHERE token_id = ?;`, tokenID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return r, fmt.Errorf("GetRecordByTokenID query: %w", err)
	}
	return r, err
}

func (s *DeviceStore) ListRecords(ctx context.Context, personID string) ([]types.DeviceTrustRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT`+recordColumns+`
FROM device_trust_records
WHERE person_id = ?
ORDER BY issued_at_ms DESC, id DESC;
`, personID)
	if err != nil {
		return nil, fmt.Errorf("ListRecords query: %w", err)
	}
	defer rows.Close()

	var out []types.DeviceTrustRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRecords scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *DeviceStore) RevokeRecords(ctx context.Context, personID, fingerprint, reason string, at time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE device_trust_records
SET revoked = 1, revoked_at_ms = ?, revoke_reason = ?
WHERE person_id = ? AND device_fingerprint = ? AND revoked = 0;
`, ms(at), reason, personID, fingerprint)
		if err != nil {
			return fmt.Errorf("RevokeRecords: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (s *DeviceStore) RevokeExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE device_trust_records
SET revoked = 1, revoked_at_ms = ?, revoke_reason = ?
WHERE revoked = 0 AND expires_at_ms <= ?;
`, ms(now), types.RevokeExpired, ms(now))
		if err != nil {
			return fmt.Errorf("RevokeExpired: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
