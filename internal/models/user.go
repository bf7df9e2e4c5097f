package models

import (
	"time"
)

type User struct {
	ID           string
	Username     string
	Email        string // usually equals Username for self-registered B2B accounts
	PasswordHash string
	Role         string // "user" or "admin"
	Active       bool   // false until an administrator approves the account
	CompanyName  string
	VAT          string
	Address      string
	RevokedAllAt *time.Time // tokens issued before this instant are dead
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}
