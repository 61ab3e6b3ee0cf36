package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DevicePrefix marks a device trust token.
const DevicePrefix = "QRDT1."

type deviceClaims struct {
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// DeviceCredential is the decoded content of a device trust token.
type DeviceCredential struct {
	TokenID     string
	PersonID    string
	Fingerprint string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// DeviceSigner issues and decodes device trust tokens. Decoding checks the
// signature only. Whether the binding is still active is decided by the
// stored record, which is the single source of truth for revocation and
// expiry.
type DeviceSigner struct {
	key []byte
}

func NewDeviceSigner(keys Keys) *DeviceSigner {
	return &DeviceSigner{key: keys.DeviceHMAC}
}

func (s *DeviceSigner) Issue(personID, fingerprint string, issuedAt, expiresAt time.Time) (string, DeviceCredential, error) {
	cred := DeviceCredential{
		TokenID:     uuid.NewString(),
		PersonID:    personID,
		Fingerprint: fingerprint,
		IssuedAt:    issuedAt.UTC().Truncate(time.Second),
		ExpiresAt:   expiresAt.UTC().Truncate(time.Second),
	}

	claims := deviceClaims{
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   personID,
			ID:        cred.TokenID,
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", DeviceCredential{}, fmt.Errorf("sign device token: %w", err)
	}
	return DevicePrefix + signed, cred, nil
}

func (s *DeviceSigner) Parse(raw string) (DeviceCredential, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(raw), DevicePrefix)
	if !ok || body == "" {
		return DeviceCredential{}, ErrTokenMalformed
	}

	var claims deviceClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(body, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return DeviceCredential{}, ErrTokenSignature
		}
		return DeviceCredential{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.Fingerprint == "" || claims.Issuer != issuer {
		return DeviceCredential{}, ErrTokenMalformed
	}

	cred := DeviceCredential{
		TokenID:     claims.ID,
		PersonID:    claims.Subject,
		Fingerprint: claims.Fingerprint,
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return cred, nil
}
