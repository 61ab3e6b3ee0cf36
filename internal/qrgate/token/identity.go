package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityPrefix marks an identity payload and distinguishes it from the
// campus:// action point URLs.
const IdentityPrefix = "QRID1."

type identityClaims struct {
	jwt.RegisteredClaims
}

// Identity is a verified identity token.
type Identity struct {
	PersonID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuedIdentity is returned to the holder's phone for rendering.
type IssuedIdentity struct {
	Token     string
	PersonID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	TTL       time.Duration
}

// IdentityIssuer signs and verifies identity tokens. It holds no per-token
// state.
type IdentityIssuer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
	skew time.Duration
}

func NewIdentityIssuer(keys Keys, ttl, skew time.Duration) *IdentityIssuer {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &IdentityIssuer{
		priv: keys.IdentityPrivate,
		pub:  keys.IdentityPublic,
		ttl:  ttl.Truncate(time.Second),
		skew: skew,
	}
}

func (i *IdentityIssuer) TTL() time.Duration { return i.ttl }

// PublicKey returns the raw Ed25519 verification key, base64url encoded.
func (i *IdentityIssuer) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(i.pub)
}

// Issue signs a token for personID valid from now for the configured TTL.
// Times are truncated to whole seconds, the precision of the JWT claims.
func (i *IdentityIssuer) Issue(personID string, now time.Time) (IssuedIdentity, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return IssuedIdentity{}, errors.New("person_id is required")
	}

	issuedAt := now.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   personID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.priv)
	if err != nil {
		return IssuedIdentity{}, fmt.Errorf("sign identity token: %w", err)
	}

	return IssuedIdentity{
		Token:     IdentityPrefix + signed,
		PersonID:  personID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		TTL:       i.ttl,
	}, nil
}

// Verify checks the signature and the validity window at the instant at.
// A token is valid up to and including ExpiresAt. A token whose IssuedAt is
// more than the skew tolerance after at is rejected with ErrTokenFromFuture.
// On ErrTokenExpired and ErrTokenFromFuture the decoded Identity is returned
// alongside the error.
func (i *IdentityIssuer) Verify(raw string, at time.Time) (Identity, error) {
	body, ok := strings.CutPrefix(raw, IdentityPrefix)
	if !ok || body == "" {
		return Identity{}, ErrTokenMalformed
	}

	var claims identityClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(body, &claims, func(*jwt.Token) (any, error) {
		return i.pub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Identity{}, ErrTokenSignature
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil || claims.Issuer != issuer {
		return Identity{}, ErrTokenMalformed
	}

	id := Identity{
		PersonID:  claims.Subject,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}

	if at.After(id.ExpiresAt) {
		return id, ErrTokenExpired
	}
	if id.IssuedAt.After(at.Add(i.skew)) {
		return id, ErrTokenFromFuture
	}
	return id, nil
}
