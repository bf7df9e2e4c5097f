package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the identity claims carried by a session token.
// RegisteredClaims.ID holds the jti used as the revocation key; tokens
// minted before jti support lack it and are accepted on signature and
// expiry alone.
type SessionClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// RevokedToken is one entry in the revocation ledger. ExpiresAt mirrors
// the token's own expiry so entries can be garbage collected.
type RevokedToken struct {
	ID        string
	JTI       string
	UserID    string
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
