package models

import "time"

const (
	// OTPCodeLength is the number of digits in a verification code.
	OTPCodeLength = 6

	// OTPMaxAttempts is the number of wrong submissions that permanently
	// invalidate a challenge.
	OTPMaxAttempts = 5
)

// OTPChallenge is a short-lived verification code bound to a login attempt
// from an unrecognized device. Requesting a new challenge supersedes any
// outstanding one for the same user.
type OTPChallenge struct {
	ID          string
	UserID      string
	Fingerprint string
	Code        string
	Attempts    int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (c *OTPChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
