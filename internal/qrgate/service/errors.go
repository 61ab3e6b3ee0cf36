package service

import "errors"

var (
	ErrInvalidPersonID    = errors.New("person_id is required")
	ErrInvalidPhone       = errors.New("phone_number must be E.164, e.g. +919800000001")
	ErrInvalidFingerprint = errors.New("device fingerprint is required")
	ErrTooManyAttempts    = errors.New("too many registration attempts, try again later")

	ErrVerificationNotFound = errors.New("verification not found")
	ErrNoPendingAttempt     = errors.New("no pending verification for this number")
	ErrDeviceNotFound       = errors.New("no active device for this person")

	// Device authentication failures, in the order they are checked.
	ErrDeviceTokenInvalid        = errors.New("device trust token invalid")
	ErrDeviceFingerprintMismatch = errors.New("device fingerprint does not match trust token")
	ErrDeviceUnregistered        = errors.New("device not registered")
	ErrDeviceRevoked             = errors.New("device revoked")
	ErrDeviceExpired             = errors.New("device trust expired")
	ErrDeviceOwnerMismatch       = errors.New("device bound to another person")

	ErrActionPointNotFound = errors.New("action point not found")
	ErrActionPointExists   = errors.New("action point already exists")
	ErrInvalidActionPoint  = errors.New("invalid action point")
	ErrNotPrintable        = errors.New("mode_a action points have no printed code")
)
