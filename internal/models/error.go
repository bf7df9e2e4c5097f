package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login state errors
	ErrAccountPending   = errors.New("account pending administrative approval")
	ErrDevicePending    = errors.New("device pending administrative approval")
	ErrOTPRequired      = errors.New("device verification code required")
	ErrNoChallenge      = errors.New("no active verification")
	ErrChallengeExpired = errors.New("verification code expired")
)

// OTPAttemptError reports a wrong verification code along with how many
// attempts remain before the challenge is invalidated.
type OTPAttemptError struct {
	Remaining int
}

func (e *OTPAttemptError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.Remaining)
}
