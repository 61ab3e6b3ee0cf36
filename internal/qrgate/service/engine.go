package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/handlers"
	"github.com/campusops/qrgate/internal/qrgate/metrics"
	"github.com/campusops/qrgate/internal/qrgate/payload"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/token"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

// DeviceAuthenticator is satisfied by *Registrar.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, raw, fingerprint string, at time.Time) (types.DeviceTrustRecord, error)
}

// IdentityVerifier is satisfied by *token.IdentityIssuer.
type IdentityVerifier interface {
	Verify(raw string, at time.Time) (token.Identity, error)
}

type EngineConfig struct {
	DedupWindow        time.Duration
	GeofenceToleranceM float64
	// Location is the campus timezone for time windows. Defaults to UTC.
	Location *time.Location
}

type EngineDeps struct {
	ActionPoints store.ActionPointStore
	Devices      DeviceAuthenticator
	Identity     IdentityVerifier
	Dedup        store.DedupGuard
	Authorizer   Authorizer
	Handlers     *handlers.Registry
	ScanLog      store.ScanLogStore
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Engine runs the scan validation pipeline. It holds no per-scan state and
// is safe for concurrent use.
type Engine struct {
	EngineDeps
	cfg EngineConfig
	now func() time.Time
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 300 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{EngineDeps: deps, cfg: cfg, now: time.Now}
}

// Outcome is the verdict together with the log entry written for it.
type Outcome struct {
	Verdict types.Verdict
	Entry   types.ScanLogEntry
}

// evaluation accumulates what each stage learned, for the log entry.
type evaluation struct {
	in              types.ScanInput
	ap              *types.ActionPoint
	subject         string
	deviceValidated bool
	geoValidated    *bool
	distanceM       *float64
	// claim is the dedup slot held by a successful evaluation.
	claim *store.Claim
}

// Validate returns exactly one verdict for in and writes exactly one log
// entry for it. An error means a backing store failed: either no verdict was
// reached, or the log entry could not be written. In the second case the
// verdict is discarded, the dedup claim is released and no handler runs, so
// no scan is accepted without its audit row.
func (e *Engine) Validate(ctx context.Context, in types.ScanInput) (Outcome, error) {
	start := time.Now()
	if in.ScannedAt.IsZero() {
		in.ScannedAt = e.now()
	}
	in.ScannedAt = in.ScannedAt.UTC()

	ev := &evaluation{in: in}
	verdict, err := e.evaluate(ctx, ev)
	if err != nil {
		e.Logger.Error("scan evaluation failed",
			zap.String("channel", string(in.Channel)),
			zap.String("device_fingerprint", in.DeviceFingerprint),
			zap.Error(err))
		return Outcome{}, err
	}

	entry := ev.entry(verdict)
	if err := e.ScanLog.AppendScan(ctx, entry); err != nil {
		e.Logger.Error("scan log write failed",
			zap.String("scan_log_id", entry.ID),
			zap.String("validation_result", string(entry.Result)),
			zap.Error(err))
		e.release(ctx, ev.claim)
		return Outcome{}, fmt.Errorf("append scan log: %w", err)
	}

	if verdict.Result() == types.ResultSuccess {
		e.runHandler(ctx, ev, entry)
	} else {
		e.Logger.Info("scan rejected",
			zap.String("scan_log_id", entry.ID),
			zap.String("validation_result", string(entry.Result)),
			zap.String("rejection_reason", entry.RejectionReason),
			zap.String("device_fingerprint", entry.DeviceFingerprint),
			zap.Float64p("scan_latitude", entry.Latitude),
			zap.Float64p("scan_longitude", entry.Longitude))
	}

	e.Metrics.ObserveScan(verdict.Result(), entry.ActionType, string(in.Channel), time.Since(start))
	return Outcome{Verdict: verdict, Entry: entry}, nil
}

func (e *Engine) runHandler(ctx context.Context, ev *evaluation, entry types.ScanLogEntry) {
	h, ok := e.Handlers.Lookup(ev.ap.ActionType)
	if !ok {
		return
	}
	err := h.Handle(ctx, types.ActionEvent{
		ScanLogID:     entry.ID,
		PersonID:      ev.subject,
		ActionPointID: ev.ap.ID,
		ActionType:    ev.ap.ActionType,
		LocationCode:  ev.ap.LocationCode,
		QRMode:        ev.ap.QRMode,
		Channel:       string(ev.in.Channel),
		ScannedAt:     ev.in.ScannedAt,
	})
	if err != nil {
		e.Metrics.HandlerFailed(ev.ap.ActionType)
		e.Logger.Warn("action handler failed",
			zap.String("scan_log_id", entry.ID),
			zap.String("action_type", ev.ap.ActionType),
			zap.Error(err))
	}
}

func (e *Engine) evaluate(ctx context.Context, ev *evaluation) (types.Verdict, error) {
	in := ev.in

	parsed, err := payload.Parse(in.RawPayload)
	if err != nil {
		return types.InvalidQR{Detail: "unrecognised payload"}, nil
	}

	if v, err := e.resolvePoint(ctx, ev, parsed); v != nil || err != nil {
		return v, err
	}
	if _, ok := e.Handlers.Lookup(ev.ap.ActionType); !ok {
		return types.NoHandler{ActionType: ev.ap.ActionType}, nil
	}

	if parsed.Kind == payload.KindIdentity {
		id, err := e.Identity.Verify(parsed.Identity, in.ScannedAt)
		switch {
		case errors.Is(err, token.ErrTokenExpired), errors.Is(err, token.ErrTokenFromFuture):
			ev.subject = id.PersonID
			return types.ExpiredToken{
				IssuedAt:   id.IssuedAt,
				ExpiresAt:  id.ExpiresAt,
				ScannedAt:  in.ScannedAt,
				FromFuture: errors.Is(err, token.ErrTokenFromFuture),
			}, nil
		case errors.Is(err, token.ErrTokenSignature):
			return types.InvalidQR{Detail: "identity token signature invalid"}, nil
		case err != nil:
			return types.InvalidQR{Detail: "identity token malformed"}, nil
		}
		ev.subject = id.PersonID
	}

	if v, err := e.checkDevice(ctx, ev); v != nil || err != nil {
		return v, err
	}

	if in.Channel == types.ChannelCamera && ev.ap.Geofence != nil {
		if v := e.checkGeofence(ev); v != nil {
			return v, nil
		}
	}

	if local := in.ScannedAt.In(e.cfg.Location); !ev.ap.InWindow(local) {
		return types.TimeViolation{LocalTime: local}, nil
	}

	key := ev.subject + "|" + ev.ap.ID
	claim, ok, err := e.Dedup.Claim(ctx, key, e.cfg.DedupWindow, in.ScannedAt)
	if err != nil {
		return nil, fmt.Errorf("dedup claim: %w", err)
	}
	if !ok {
		return types.DuplicateScan{Window: e.cfg.DedupWindow}, nil
	}

	allowed, err := e.Authorizer.Authorize(ctx, ev.subject, *ev.ap)
	if err != nil || !allowed {
		e.release(ctx, &claim)
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		return types.Unauthorized{ActionType: ev.ap.ActionType}, nil
	}

	ev.claim = &claim
	return types.Success{ActionType: ev.ap.ActionType}, nil
}

func (e *Engine) release(ctx context.Context, c *store.Claim) {
	if c == nil {
		return
	}
	if err := e.Dedup.Release(ctx, *c); err != nil {
		e.Logger.Warn("dedup release failed", zap.String("claim_key", c.Key), zap.Error(err))
	}
}

// resolvePoint matches the payload kind to the channel and loads the action
// point. A nil verdict and nil error mean ev.ap is set and usable.
func (e *Engine) resolvePoint(ctx context.Context, ev *evaluation, parsed payload.Parsed) (types.Verdict, error) {
	in := ev.in
	switch in.Channel {
	case types.ChannelCamera:
		if parsed.Kind != payload.KindAction {
			return types.InvalidQR{Detail: "identity codes must be read by a terminal"}, nil
		}
		ap, v, err := e.loadPoint(ctx, parsed.Action.ActionPointID)
		if v != nil || err != nil {
			return v, err
		}
		ev.ap = &ap
		switch {
		case ap.QRMode != types.ModeB:
			return types.InvalidQR{Detail: "action point has no printed code"}, nil
		case ap.LocationCode != parsed.Action.LocationCode:
			return types.InvalidQR{Detail: "location code mismatch"}, nil
		case ap.ActionType != parsed.Action.ActionType:
			return types.InvalidQR{Detail: "action type mismatch"}, nil
		}
		return nil, nil

	case types.ChannelTerminal:
		if parsed.Kind != payload.KindIdentity {
			return types.InvalidQR{Detail: "terminal accepts identity codes only"}, nil
		}
		ap, v, err := e.loadPoint(ctx, in.ActionPointID)
		if v != nil || err != nil {
			return v, err
		}
		ev.ap = &ap
		if ap.QRMode != types.ModeA {
			return types.InvalidQR{Detail: "action point is not terminal-read"}, nil
		}
		if !ap.AllowsScanner(in.DeviceFingerprint) {
			return types.DeviceMismatch{Detail: "scanner not bound to action point"}, nil
		}
		return nil, nil

	default:
		return types.InvalidQR{Detail: "unknown scan channel"}, nil
	}
}

func (e *Engine) loadPoint(ctx context.Context, id string) (types.ActionPoint, types.Verdict, error) {
	if id == "" {
		return types.ActionPoint{}, types.InvalidQR{Detail: "unknown action point"}, nil
	}
	ap, err := e.ActionPoints.GetActionPoint(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ap, types.InvalidQR{Detail: "unknown action point"}, nil
	}
	if err != nil {
		return ap, nil, fmt.Errorf("load action point: %w", err)
	}
	if !ap.IsActive {
		return ap, types.InvalidQR{Detail: "action point inactive"}, nil
	}
	return ap, nil, nil
}

func (e *Engine) checkDevice(ctx context.Context, ev *evaluation) (types.Verdict, error) {
	in := ev.in
	rec, err := e.Devices.Authenticate(ctx, in.DeviceTrustToken, in.DeviceFingerprint, in.ScannedAt)
	switch {
	case errors.Is(err, ErrDeviceTokenInvalid),
		errors.Is(err, ErrDeviceFingerprintMismatch),
		errors.Is(err, ErrDeviceUnregistered):
		return types.DeviceMismatch{Detail: err.Error()}, nil
	case errors.Is(err, ErrDeviceRevoked):
		return types.RevokedDevice{}, nil
	case errors.Is(err, ErrDeviceExpired):
		return types.RevokedDevice{Expired: true}, nil
	case err != nil:
		return nil, fmt.Errorf("device check: %w", err)
	}
	if rec.PersonID != in.ScannerPersonID {
		return types.DeviceMismatch{Detail: ErrDeviceOwnerMismatch.Error()}, nil
	}
	ev.deviceValidated = true
	if in.Channel == types.ChannelCamera {
		ev.subject = rec.PersonID
	}
	return nil, nil
}

func (e *Engine) checkGeofence(ev *evaluation) types.Verdict {
	in := ev.in
	fence := ev.ap.Geofence
	if in.Latitude == nil || in.Longitude == nil {
		f := false
		ev.geoValidated = &f
		return types.GeoViolation{MissingGPS: true, AllowedM: fence.RadiusM + e.cfg.GeofenceToleranceM}
	}
	if !types.ValidCoordinates(*in.Latitude, *in.Longitude) {
		f := false
		ev.geoValidated = &f
		return types.GeoViolation{InvalidGPS: true, AllowedM: fence.RadiusM + e.cfg.GeofenceToleranceM}
	}
	d, ok := fence.Contains(*in.Latitude, *in.Longitude, e.cfg.GeofenceToleranceM)
	ev.distanceM = &d
	ev.geoValidated = &ok
	if !ok {
		return types.GeoViolation{DistanceM: d, AllowedM: fence.RadiusM + e.cfg.GeofenceToleranceM}
	}
	return nil
}

func (ev *evaluation) entry(v types.Verdict) types.ScanLogEntry {
	in := ev.in
	e := types.ScanLogEntry{
		ID:                newScanID(in.ScannedAt),
		ScannedAt:         in.ScannedAt,
		PersonID:          ev.subject,
		ScannerPersonID:   in.ScannerPersonID,
		Result:            v.Result(),
		RejectionReason:   v.Reason(),
		DeviceFingerprint: in.DeviceFingerprint,
		DeviceValidated:   ev.deviceValidated,
		GeoValidated:      ev.geoValidated,
		Latitude:          in.Latitude,
		Longitude:         in.Longitude,
		DistanceM:         ev.distanceM,
	}
	if ev.ap != nil {
		id := ev.ap.ID
		e.ActionPointID = &id
		e.ActionType = ev.ap.ActionType
		e.QRMode = ev.ap.QRMode
	}
	return e
}

// newScanID returns a ULID so log ids sort by scan time.
func newScanID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
