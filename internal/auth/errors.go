package auth

import "errors"

// Authentication failures surfaced to callers. ErrInvalidCredentials is
// deliberately the single error for wrong password, inactive account and
// unknown email so responses cannot be used to enumerate accounts.
var (
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrAccountLocked      = errors.New("account is temporarily locked")
)

// Store-level sentinels.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Code maps an authentication error to its stable machine-readable code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAccountLocked):
		return "ACCOUNT_LOCKED"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrInvalidToken):
		return "INVALID_TOKEN"
	default:
		return "INTERNAL"
	}
}
