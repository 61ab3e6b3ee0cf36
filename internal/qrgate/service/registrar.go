package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/metrics"
	"github.com/campusops/qrgate/internal/qrgate/store"
	"github.com/campusops/qrgate/internal/qrgate/token"
	"github.com/campusops/qrgate/internal/qrgate/types"
)

const maxFingerprintLen = 256

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone strips spaces, dashes, dots and parentheses and accepts a
// leading 00 in place of +. The result must be E.164.
func NormalizePhone(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')', '\t':
			return -1
		}
		return r
	}, raw)
	if rest, ok := strings.CutPrefix(s, "00"); ok {
		s = "+" + rest
	}
	if !e164.MatchString(s) {
		return "", ErrInvalidPhone
	}
	return s, nil
}

type RegistrarConfig struct {
	// DevAutoVerify promotes pending attempts on the first status poll
	// without possession proof. Never enable in production.
	DevAutoVerify       bool
	VerificationTimeout time.Duration
	PollInterval        time.Duration
	DeviceTrustTTL      time.Duration
	InboundNumber       string

	RateLimit       int
	RateLimitWindow time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Registration is returned to the device that started a verification.
type Registration struct {
	VerificationID string
	DevMode        bool
	PollInterval   time.Duration
	MaxPolls       int
	InboundNumber  string
}

// RegistrationStatus is one status poll result. Token is non-empty on
// exactly one poll after promotion.
type RegistrationStatus struct {
	Status         types.VerificationStatus
	Token          string
	TokenExpiresAt *time.Time
	Message        string
}

// Registrar binds devices to people through phone-number possession and
// answers device authentication for scans and identity issuance.
type Registrar struct {
	store   store.DeviceStore
	signer  *token.DeviceSigner
	limiter store.RateLimiter
	cfg     RegistrarConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRegistrar(st store.DeviceStore, signer *token.DeviceSigner, limiter store.RateLimiter, cfg RegistrarConfig, m *metrics.Metrics, logger *zap.Logger) *Registrar {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.VerificationTimeout <= 0 {
		cfg.VerificationTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.DeviceTrustTTL <= 0 {
		cfg.DeviceTrustTTL = 180 * 24 * time.Hour
	}
	return &Registrar{store: st, signer: signer, limiter: limiter, cfg: cfg, metrics: m, logger: logger}
}

func (r *Registrar) now() time.Time { return r.cfg.Now().UTC() }

func (r *Registrar) StartRegistration(ctx context.Context, personID, phone, fingerprint string) (Registration, error) {
	personID = strings.TrimSpace(personID)
	fingerprint = strings.TrimSpace(fingerprint)
	if personID == "" {
		return Registration{}, ErrInvalidPersonID
	}
	if fingerprint == "" || len(fingerprint) > maxFingerprintLen {
		return Registration{}, ErrInvalidFingerprint
	}
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return Registration{}, err
	}

	now := r.now()
	if r.limiter != nil {
		ok, err := r.limiter.Allow(ctx, "register:"+normalized, r.cfg.RateLimit, r.cfg.RateLimitWindow, now)
		if err != nil {
			return Registration{}, fmt.Errorf("rate limit: %w", err)
		}
		if !ok {
			return Registration{}, ErrTooManyAttempts
		}
	}

	a := types.VerificationAttempt{
		VerificationID:    uuid.NewString(),
		PersonID:          personID,
		PhoneNumber:       normalized,
		DeviceFingerprint: fingerprint,
		Status:            types.StatusPending,
		DevMode:           r.cfg.DevAutoVerify,
		CreatedAt:         now,
	}
	if err := r.store.CreateAttempt(ctx, a); err != nil {
		return Registration{}, fmt.Errorf("create attempt: %w", err)
	}
	r.metrics.Registration(types.StatusPending)
	r.logger.Info("device registration started",
		zap.String("verification_id", a.VerificationID),
		zap.String("person_id", personID),
		zap.Bool("dev_mode", a.DevMode))

	return Registration{
		VerificationID: a.VerificationID,
		DevMode:        a.DevMode,
		PollInterval:   r.cfg.PollInterval,
		MaxPolls:       int(r.cfg.VerificationTimeout / r.cfg.PollInterval),
		InboundNumber:  r.cfg.InboundNumber,
	}, nil
}

// CheckStatus reports an attempt's state. A pending attempt past the
// verification timeout becomes timed_out here; a dev-mode attempt is
// promoted here.
func (r *Registrar) CheckStatus(ctx context.Context, verificationID string) (RegistrationStatus, error) {
	a, err := r.getAttempt(ctx, verificationID)
	if err != nil {
		return RegistrationStatus{}, err
	}

	if a.Status == types.StatusPending {
		now := r.now()
		switch {
		case !now.Before(a.CreatedAt.Add(r.cfg.VerificationTimeout)):
			err = r.store.FinishAttempt(ctx, a.VerificationID, types.StatusTimedOut, "verification timed out", now)
			if err == nil {
				r.metrics.Registration(types.StatusTimedOut)
			}
		case a.DevMode:
			err = r.promote(ctx, a, now)
		}
		if err != nil && !errors.Is(err, store.ErrAttemptNotPending) {
			return RegistrationStatus{}, err
		}
		// Re-read: either we moved it or a concurrent poll or SMS did.
		if a, err = r.getAttempt(ctx, verificationID); err != nil {
			return RegistrationStatus{}, err
		}
	}

	st := RegistrationStatus{Status: a.Status, Message: a.Message}
	switch a.Status {
	case types.StatusPending:
		st.Message = "waiting for verification SMS"
	case types.StatusActive:
		tok, exp, err := r.store.TakeToken(ctx, a.VerificationID)
		if err != nil {
			return RegistrationStatus{}, fmt.Errorf("take token: %w", err)
		}
		if tok == "" {
			st.Message = "device already verified; the credential was delivered earlier"
			return st, nil
		}
		st.Token, st.TokenExpiresAt = tok, exp
		st.Message = "device verified"
	}
	return st, nil
}

// HandleInboundSMS is the possession proof: a message from the registered
// number promotes the newest live pending attempt for it.
func (r *Registrar) HandleInboundSMS(ctx context.Context, from, body string) (string, error) {
	phone, err := NormalizePhone(from)
	if err != nil {
		return "", err
	}
	now := r.now()
	a, err := r.store.LatestPendingByPhone(ctx, phone, now.Add(-r.cfg.VerificationTimeout))
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Info("inbound sms without pending verification", zap.Int("body_len", len(body)))
		return "", ErrNoPendingAttempt
	}
	if err != nil {
		return "", fmt.Errorf("find pending attempt: %w", err)
	}
	if err := r.promote(ctx, a, now); err != nil {
		if errors.Is(err, store.ErrAttemptNotPending) {
			return "", ErrNoPendingAttempt
		}
		return "", err
	}
	return a.VerificationID, nil
}

func (r *Registrar) promote(ctx context.Context, a types.VerificationAttempt, now time.Time) error {
	raw, cred, err := r.signer.Issue(a.PersonID, a.DeviceFingerprint, now, now.Add(r.cfg.DeviceTrustTTL))
	if err != nil {
		return err
	}
	rec := types.DeviceTrustRecord{
		DeviceFingerprint: a.DeviceFingerprint,
		PersonID:          a.PersonID,
		TokenID:           cred.TokenID,
		IssuedAt:          cred.IssuedAt,
		ExpiresAt:         cred.ExpiresAt,
	}
	err = r.store.Promote(ctx, store.Promotion{
		VerificationID: a.VerificationID,
		Record:         rec,
		Token:          raw,
		At:             now,
	})
	if err != nil {
		return fmt.Errorf("promote %s: %w", a.VerificationID, err)
	}
	r.metrics.Registration(types.StatusActive)
	r.logger.Info("device verified",
		zap.String("verification_id", a.VerificationID),
		zap.String("person_id", a.PersonID),
		zap.Time("expires_at", rec.ExpiresAt))
	return nil
}

func (r *Registrar) getAttempt(ctx context.Context, id string) (types.VerificationAttempt, error) {
	a, err := r.store.GetAttempt(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return a, ErrVerificationNotFound
	}
	if err != nil {
		return a, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Revoke ends every active binding of fingerprint to personID.
func (r *Registrar) Revoke(ctx context.Context, fingerprint, personID string) error {
	n, err := r.store.RevokeRecords(ctx, personID, fingerprint, types.RevokeExplicit, r.now())
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	r.logger.Info("device revoked",
		zap.String("person_id", personID),
		zap.String("device_fingerprint", fingerprint))
	return nil
}

func (r *Registrar) ListDevices(ctx context.Context, personID string) ([]types.DeviceTrustRecord, error) {
	if strings.TrimSpace(personID) == "" {
		return nil, ErrInvalidPersonID
	}
	return r.store.ListRecords(ctx, personID)
}

// Authenticate checks a device trust token presented with fingerprint at
// the instant at. The stored record is read on every call.
func (r *Registrar) Authenticate(ctx context.Context, raw, fingerprint string, at time.Time) (types.DeviceTrustRecord, error) {
	cred, err := r.signer.Parse(raw)
	if err != nil {
		return types.DeviceTrustRecord{}, ErrDeviceTokenInvalid
	}
	if cred.Fingerprint != fingerprint {
		return types.DeviceTrustRecord{}, ErrDeviceFingerprintMismatch
	}
	rec, err := r.store.GetRecordByTokenID(ctx, cred.TokenID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceTrustRecord{}, ErrDeviceUnregistered
	}
	if err != nil {
		return types.DeviceTrustRecord{}, fmt.Errorf("load trust record: %w", err)
	}
	if rec.PersonID != cred.PersonID || rec.DeviceFingerprint != cred.Fingerprint {
		return types.DeviceTrustRecord{}, ErrDeviceTokenInvalid
	}
	if rec.Revoked {
		if rec.RevokeReason == types.RevokeExpired {
			return rec, ErrDeviceExpired
		}
		return rec, ErrDeviceRevoked
	}
	if !at.Before(rec.ExpiresAt) {
		return rec, ErrDeviceExpired
	}
	return rec, nil
}
