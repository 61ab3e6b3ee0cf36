// Package token issues and verifies the two signed credentials: short-lived
// identity tokens shown as rotating QR codes, and long-lived device trust
// tokens held by registered phones.
package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const issuer = "qrgate"

var (
	ErrTokenMalformed  = errors.New("token malformed")
	ErrTokenSignature  = errors.New("token signature invalid")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenFromFuture = errors.New("token issued in the future")
	ErrNoMasterSecret  = errors.New("master secret is empty")
)

// Keys holds the signing material derived from the server master secret.
type Keys struct {
	IdentityPrivate ed25519.PrivateKey
	IdentityPublic  ed25519.PublicKey
	DeviceHMAC      []byte
}

// DeriveKeys expands secret into independent keys, one per purpose, with
// HKDF-SHA256. The same secret always yields the same keys, so every
// instance sharing it can verify tokens issued by the others.
func DeriveKeys(secret []byte) (Keys, error) {
	if len(secret) == 0 {
		return Keys{}, ErrNoMasterSecret
	}

	seed, err := expand(secret, "qrgate/identity/ed25519/v1", ed25519.SeedSize)
	if err != nil {
		return Keys{}, err
	}
	priv := ed25519.NewKeyFromSeed(seed)

	mac, err := expand(secret, "qrgate/device-trust/hs256/v1", 32)
	if err != nil {
		return Keys{}, err
	}

	return Keys{
		IdentityPrivate: priv,
		IdentityPublic:  priv.Public().(ed25519.PublicKey),
		DeviceHMAC:      mac,
	}, nil
}

func expand(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf %s: %w", info, err)
	}
	return out, nil
}
