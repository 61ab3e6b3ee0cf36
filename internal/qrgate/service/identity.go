package service

import (
	"context"
	"time"

	"github.com/campusops/qrgate/internal/qrgate/token"
)

// IdentityService issues short-lived identity tokens to verified devices.
type IdentityService struct {
	registrar *Registrar
	issuer    *token.IdentityIssuer
	now       func() time.Time
}

// NewIdentityService wires issuance to device authentication. now may be
// nil for time.Now.
func NewIdentityService(reg *Registrar, issuer *token.IdentityIssuer, now func() time.Time) *IdentityService {
	if now == nil {
		now = time.Now
	}
	return &IdentityService{registrar: reg, issuer: issuer, now: now}
}

// IssueForDevice authenticates the caller's device and signs a token for
// the person it is bound to. personID, when set, must be that person.
func (s *IdentityService) IssueForDevice(ctx context.Context, personID, fingerprint, deviceToken string) (token.IssuedIdentity, error) {
	now := s.now().UTC()
	rec, err := s.registrar.Authenticate(ctx, deviceToken, fingerprint, now)
	if err != nil {
		return token.IssuedIdentity{}, err
	}
	if personID != "" && rec.PersonID != personID {
		return token.IssuedIdentity{}, ErrDeviceOwnerMismatch
	}
	return s.issuer.Issue(rec.PersonID, now)
}

func (s *IdentityService) PublicKey() string { return s.issuer.PublicKey() }

func (s *IdentityService) TTL() time.Duration { return s.issuer.TTL() }
