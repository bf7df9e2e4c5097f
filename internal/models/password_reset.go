package models

import "time"

// PasswordReset is a single-use reset token. A successful reset bumps the
// user's RevokedAllAt so every outstanding session dies with the old
// password.
type PasswordReset struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (p *PasswordReset) Usable(now time.Time) bool {
	return p.UsedAt == nil && now.Before(p.ExpiresAt)
}
