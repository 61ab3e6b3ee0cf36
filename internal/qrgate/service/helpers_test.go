package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/handlers"
	"github.com/campusops/qrgate/internal/qrgate/service"
	"github.com/campusops/qrgate/internal/qrgate/store/memory"
	"github.com/campusops/qrgate/internal/qrgate/token"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

// testClock is a settable clock shared by the registrar under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder is an action handler that remembers what it was given.
type recorder struct {
	mu     sync.Mutex
	events []types.ActionEvent
	err    error
}

func (r *recorder) Handle(_ context.Context, ev types.ActionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Events() []types.ActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ActionEvent(nil), r.events...)
}

type fixture struct {
	clock     *testClock
	devices   *memory.DeviceStore
	points    *memory.ActionPointStore
	scanLog   *memory.ScanLogStore
	dedup     *memory.DedupGuard
	issuer    *token.IdentityIssuer
	registrar *service.Registrar
	handlers  *handlers.Registry
	handled   *recorder
	engine    *service.Engine
	enrolled  int
}

// Campus reference point used by the geofenced mess.
const (
	messLat = 12.9716
	messLng = 77.5946
)

var fixtureStart = time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC) // a Monday

func testPoints() []types.ActionPoint {
	return []types.ActionPoint{
		{
			ID: "ap-mess", ActionType: types.ActionMessEntry, LocationCode: "MESS-N",
			QRMode: types.ModeB, IsActive: true,
			Geofence: &types.Geofence{CenterLat: messLat, CenterLng: messLng, RadiusM: 75},
			TimeWindows: []types.TimeWindow{
				{Start: "12:00", End: "14:30"},
				{Start: "19:00", End: "21:30"},
			},
		},
		{
			ID: "ap-lecture", ActionType: types.ActionAttendanceMark, LocationCode: "LH1",
			QRMode: types.ModeB, IsActive: true,
		},
		{
			ID: "ap-lib", ActionType: types.ActionLibraryCheckout, LocationCode: "LIB",
			QRMode: types.ModeA, IsActive: true, ScannerFingerprints: []string{"term-lib-1"},
		},
		{
			ID: "ap-closed", ActionType: types.ActionAttendanceMark, LocationCode: "LH9",
			QRMode: types.ModeB, IsActive: false,
		},
		{
			ID: "ap-hostel", ActionType: types.ActionHostelCheckin, LocationCode: "HST",
			QRMode: types.ModeB, IsActive: true,
		},
	}
}

func newFixture(t *testing.T, policy service.AccessPolicy) *fixture {
	t.Helper()

	keys, err := token.DeriveKeys([]byte("service-test-master-secret-0123456789"))
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}

	f := &fixture{
		clock:    newTestClock(fixtureStart),
		devices:  memory.NewDeviceStore(),
		points:   memory.NewActionPointStore(testPoints()...),
		scanLog:  memory.NewScanLogStore(),
		dedup:    memory.NewDedupGuard(),
		issuer:   token.NewIdentityIssuer(keys, 60*time.Second, 5*time.Second),
		handlers: handlers.NewRegistry(),
		handled:  &recorder{},
	}

	f.registrar = service.NewRegistrar(f.devices, token.NewDeviceSigner(keys), memory.NewRateLimiter(),
		service.RegistrarConfig{
			DevAutoVerify:       true,
			VerificationTimeout: 60 * time.Second,
			PollInterval:        2 * time.Second,
			DeviceTrustTTL:      180 * 24 * time.Hour,
			RateLimit:           5,
			RateLimitWindow:     10 * time.Minute,
			Now:                 f.clock.Now,
		}, nil, zap.NewNop())

	// hostel_checkin deliberately has no handler.
	for _, at := range []string{types.ActionMessEntry, types.ActionAttendanceMark, types.ActionLibraryCheckout} {
		f.handlers.Register(at, f.handled)
	}

	f.engine = service.NewEngine(service.EngineDeps{
		ActionPoints: f.points,
		Devices:      f.registrar,
		Identity:     f.issuer,
		Dedup:        f.dedup,
		Authorizer:   policy,
		Handlers:     f.handlers,
		ScanLog:      f.scanLog,
		Logger:       zap.NewNop(),
	}, service.EngineConfig{DedupWindow: 300 * time.Second})

	return f
}

// enroll registers fingerprint for personID in dev mode and returns the
// device trust token.
func (f *fixture) enroll(t *testing.T, personID, fingerprint string) string {
	t.Helper()
	ctx := context.Background()

	f.enrolled++
	phone := fmt.Sprintf("+9198%08d", f.enrolled)
	reg, err := f.registrar.StartRegistration(ctx, personID, phone, fingerprint)
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	st, err := f.registrar.CheckStatus(ctx, reg.VerificationID)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if st.Status != types.StatusActive || st.Token == "" {
		t.Fatalf("expected active with token, got %+v", st)
	}
	return st.Token
}

func ptr[T any](v T) *T { return &v }
