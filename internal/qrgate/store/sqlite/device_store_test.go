package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/store"
	sqlitestore "github.com/campusops/qrgate/internal/qrgate/store/sqlite"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

func pendingAttempt(id, phone string, at time.Time) types.VerificationAttempt {
	return types.VerificationAttempt{
		VerificationID:    id,
		PersonID:          "stu-1",
		PhoneNumber:       phone,
		DeviceFingerprint: "fp-1",
		Status:            types.StatusPending,
		CreatedAt:         at,
	}
}

func promotion(id, tokenID string, at time.Time) store.Promotion {
	return store.Promotion{
		VerificationID: id,
		Record: types.DeviceTrustRecord{
			DeviceFingerprint: "fp-1",
			PersonID:          "stu-1",
			TokenID:           tokenID,
			IssuedAt:          at,
			ExpiresAt:         at.Add(180 * 24 * time.Hour),
		},
		Token: "QRDT1.token-" + tokenID,
		At:    at,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Attempts
// ═══════════════════════════════════════════════════════════════════════════

func TestDeviceStore_CreateAndGetAttempt(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	a := pendingAttempt("v-1", "+919800000001", now)
	a.DevMode = true
	if err := ds.CreateAttempt(ctx, a); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.CreateAttempt(ctx, a); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate id, got %v", err)
	}

	got, err := ds.GetAttempt(ctx, "v-1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != types.StatusPending || !got.DevMode || !got.CreatedAt.Equal(now) {
		t.Errorf("unexpected attempt %+v", got)
	}

	if _, err := ds.GetAttempt(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeviceStore_LatestPendingByPhone(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"v-old", "v-new"} {
		if err := ds.CreateAttempt(ctx, pendingAttempt(id, "+919800000001", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("CreateAttempt %s: %v", id, err)
		}
	}

	got, err := ds.LatestPendingByPhone(ctx, "+919800000001", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("LatestPendingByPhone: %v", err)
	}
	if got.VerificationID != "v-new" {
		t.Errorf("expected v-new, got %s", got.VerificationID)
	}

	if _, err := ds.LatestPendingByPhone(ctx, "+919800000001", now.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound outside window, got %v", err)
	}
}

func TestDeviceStore_FinishAttemptOnlyFromPending(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-1", "+919800000001", now)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.FinishAttempt(ctx, "v-1", types.StatusFailed, "sms rejected", now); err != nil {
		t.Fatalf("FinishAttempt: %v", err)
	}
	if err := ds.FinishAttempt(ctx, "v-1", types.StatusTimedOut, "", now); !errors.Is(err, store.ErrAttemptNotPending) {
		t.Errorf("expected ErrAttemptNotPending, got %v", err)
	}
	if err := ds.FinishAttempt(ctx, "nope", types.StatusFailed, "", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Promote
// ═══════════════════════════════════════════════════════════════════════════

func TestDeviceStore_PromoteParksTokenOnce(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-1", "+919800000001", now)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.Promote(ctx, promotion("v-1", "jti-1", now)); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if err := ds.Promote(ctx, promotion("v-1", "jti-2", now)); !errors.Is(err, store.ErrAttemptNotPending) {
		t.Errorf("expected ErrAttemptNotPending on second promote, got %v", err)
	}

	tok, exp, err := ds.TakeToken(ctx, "v-1")
	if err != nil {
		t.Fatalf("TakeToken: %v", err)
	}
	if tok != "QRDT1.token-jti-1" {
		t.Errorf("unexpected token %q", tok)
	}
	if exp == nil || !exp.Equal(now.Add(180*24*time.Hour)) {
		t.Errorf("unexpected expiry %v", exp)
	}

	tok, _, err = ds.TakeToken(ctx, "v-1")
	if err != nil {
		t.Fatalf("second TakeToken: %v", err)
	}
	if tok != "" {
		t.Errorf("token must be delivered only once, got %q", tok)
	}

	a, err := ds.GetAttempt(ctx, "v-1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if a.Status != types.StatusActive || !a.Delivered {
		t.Errorf("expected active+delivered, got %+v", a)
	}
}

func TestDeviceStore_PromoteSupersedesPreviousBinding(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"v-1", "v-2"} {
		at := now.Add(time.Duration(i) * time.Hour)
		if err := ds.CreateAttempt(ctx, pendingAttempt(id, "+919800000001", at)); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
		if err := ds.Promote(ctx, promotion(id, "jti-"+id, at)); err != nil {
			t.Fatalf("Promote %s: %v", id, err)
		}
	}

	recs, err := ds.ListRecords(ctx, "stu-1")
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].TokenID != "jti-v-2" || recs[0].Revoked {
		t.Errorf("newest record should be active: %+v", recs[0])
	}
	if !recs[1].Revoked || recs[1].RevokeReason != types.RevokeSuperseded {
		t.Errorf("older record should be superseded: %+v", recs[1])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Revocation and sweeping
// ═══════════════════════════════════════════════════════════════════════════

func TestDeviceStore_RevokeIsVisibleImmediately(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Now().UTC()

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-1", "+919800000001", now)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.Promote(ctx, promotion("v-1", "jti-1", now)); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	n, err := ds.RevokeRecords(ctx, "stu-1", "fp-1", types.RevokeExplicit, now)
	if err != nil || n != 1 {
		t.Fatalf("RevokeRecords: n=%d err=%v", n, err)
	}

	rec, err := ds.GetRecordByTokenID(ctx, "jti-1")
	if err != nil {
		t.Fatalf("GetRecordByTokenID: %v", err)
	}
	if !rec.Revoked || rec.RevokedAt == nil || rec.RevokeReason != types.RevokeExplicit {
		t.Errorf("expected revoked record, got %+v", rec)
	}

	n, err = ds.RevokeRecords(ctx, "stu-1", "fp-1", types.RevokeExplicit, now)
	if err != nil || n != 0 {
		t.Errorf("second revoke should change nothing: n=%d err=%v", n, err)
	}
}

func TestDeviceStore_RevokeExpired(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-1", "+919800000001", issued)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.Promote(ctx, promotion("v-1", "jti-1", issued)); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	n, err := ds.RevokeExpired(ctx, issued.Add(181*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("RevokeExpired: n=%d err=%v", n, err)
	}
	rec, _ := ds.GetRecordByTokenID(ctx, "jti-1")
	if rec.RevokeReason != types.RevokeExpired {
		t.Errorf("expected reason expired, got %q", rec.RevokeReason)
	}
}

func TestDeviceStore_TimeoutStaleAndPurge(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-stale", "+919800000001", now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.CreateAttempt(ctx, pendingAttempt("v-fresh", "+919800000002", now)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	n, err := ds.TimeoutStale(ctx, now.Add(-time.Minute), now)
	if err != nil || n != 1 {
		t.Fatalf("TimeoutStale: n=%d err=%v", n, err)
	}
	a, _ := ds.GetAttempt(ctx, "v-stale")
	if a.Status != types.StatusTimedOut {
		t.Errorf("expected timed_out, got %s", a.Status)
	}

	n, err = ds.PurgeFinished(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeFinished: n=%d err=%v", n, err)
	}
	if _, err := ds.GetAttempt(ctx, "v-fresh"); err != nil {
		t.Errorf("pending attempt must survive purge: %v", err)
	}
}

func TestDeviceStore_PurgeDropsUncollectedToken(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()
	issued := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	if err := ds.CreateAttempt(ctx, pendingAttempt("v-1", "+919800000001", issued)); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := ds.Promote(ctx, promotion("v-1", "jti-1", issued)); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	// Never polled: the token is still parked.
	n, err := ds.PurgeFinished(ctx, issued.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeFinished: n=%d err=%v", n, err)
	}
	if _, _, err := ds.TakeToken(ctx, "v-1"); err == nil {
		t.Error("expected the parked token to be gone after purge")
	}

	var left int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_attempts WHERE pending_token IS NOT NULL`).Scan(&left); err != nil {
		t.Fatalf("count: %v", err)
	}
	if left != 0 {
		t.Errorf("expected no stored tokens, got %d", left)
	}
	if _, err := ds.GetRecordByTokenID(ctx, "jti-1"); err != nil {
		t.Errorf("trust record must survive the purge: %v", err)
	}
}
