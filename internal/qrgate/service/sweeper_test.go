package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/store/memory"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	p.calls.Add(1)
	return 2, p.err
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.NewDeviceStore()
	now := time.Now().UTC()

	stale := types.VerificationAttempt{
		VerificationID: "v-stale", PersonID: "stu-1", PhoneNumber: "+919800000001",
		DeviceFingerprint: "phone-1", Status: types.StatusPending, CreatedAt: now.Add(-5 * time.Minute),
	}
	fresh := stale
	fresh.VerificationID, fresh.CreatedAt = "v-fresh", now
	for _, a := range []types.VerificationAttempt{stale, fresh} {
		if err := st.CreateAttempt(ctx, a); err != nil {
			t.Fatalf("CreateAttempt: %v", err)
		}
	}

	purger := &countingPurger{}
	sw := service.NewSweeper(st, purger, service.SweeperConfig{
		VerificationTimeout: time.Minute,
		AttemptRetention:    24 * time.Hour,
	}, nil, zap.NewNop())
	sw.Sweep(ctx)

	got, err := st.GetAttempt(ctx, "v-stale")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != types.StatusTimedOut {
		t.Errorf("expected stale attempt timed_out, got %s", got.Status)
	}
	got, err = st.GetAttempt(ctx, "v-fresh")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != types.StatusPending {
		t.Errorf("expected fresh attempt still pending, got %s", got.Status)
	}
	if purger.calls.Load() != 1 {
		t.Errorf("expected claim purge once, got %d", purger.calls.Load())
	}
}

func TestSweeper_FailingStepDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	st := memory.NewDeviceStore()
	if err := st.CreateAttempt(ctx, types.VerificationAttempt{
		VerificationID: "v-1", Status: types.StatusPending, CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	purger := &countingPurger{err: errors.New("locked")}
	sw := service.NewSweeper(st, purger, service.SweeperConfig{VerificationTimeout: time.Minute}, nil, zap.NewNop())
	sw.Sweep(ctx)

	got, _ := st.GetAttempt(ctx, "v-1")
	if got.Status != types.StatusTimedOut {
		t.Errorf("expected timed_out, got %s", got.Status)
	}
}

func TestSweeper_StartRunsImmediately(t *testing.T) {
	purger := &countingPurger{}
	sw := service.NewSweeper(memory.NewDeviceStore(), purger, service.SweeperConfig{Interval: time.Hour}, nil, zap.NewNop())

	sw.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for purger.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()

	if purger.calls.Load() != 1 {
		t.Errorf("expected one sweep on start, got %d", purger.calls.Load())
	}
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	sw := service.NewSweeper(memory.NewDeviceStore(), nil, service.SweeperConfig{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	sw.Stop()
	sw.Stop()
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	sw := service.NewSweeper(memory.NewDeviceStore(), nil, service.SweeperConfig{}, nil, zap.NewNop())
	sw.Stop()
}

func TestSweeper_StartAfterStopIsIgnored(t *testing.T) {
	purger := &countingPurger{}
	sw := service.NewSweeper(memory.NewDeviceStore(), purger, service.SweeperConfig{Interval: time.Hour}, nil, zap.NewNop())
	sw.Stop()
	sw.Start(context.Background())
	sw.Stop()

	time.Sleep(20 * time.Millisecond)
	if n := purger.calls.Load(); n != 0 {
		t.Errorf("expected a stopped sweeper never to sweep, got %d sweeps", n)
	}
}

func TestSweeper_SecondStartIsIgnored(t *testing.T) {
	purger := &countingPurger{}
	sw := service.NewSweeper(memory.NewDeviceStore(), purger, service.SweeperConfig{Interval: time.Hour}, nil, zap.NewNop())
	sw.Start(context.Background())
	sw.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for purger.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
	if n := purger.calls.Load(); n != 1 {
		t.Errorf("expected one immediate sweep, got %d", n)
	}
}

func TestSweeper_PurgesUncollectedToken(t *testing.T) {
	ctx := context.Background()
	st := memory.NewDeviceStore()
	old := time.Now().UTC().Add(-48 * time.Hour)

	if err := st.CreateAttempt(ctx, types.VerificationAttempt{
		VerificationID: "v-old", PersonID: "stu-1", PhoneNumber: "+919800000001",
		DeviceFingerprint: "phone-1", Status: types.StatusPending, CreatedAt: old,
	}); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if err := st.Promote(ctx, store.Promotion{
		VerificationID: "v-old",
		Record: types.DeviceTrustRecord{
			DeviceFingerprint: "phone-1", PersonID: "stu-1", TokenID: "jti-old",
			IssuedAt: old, ExpiresAt: old.Add(180 * 24 * time.Hour),
		},
		Token: "QRDT1.never-collected",
		At:    old,
	}); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	sw := service.NewSweeper(st, nil, service.SweeperConfig{AttemptRetention: 24 * time.Hour}, nil, zap.NewNop())
	sw.Sweep(ctx)

	if _, err := st.GetAttempt(ctx, "v-old"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected the attempt and its parked token purged, got %v", err)
	}
}
