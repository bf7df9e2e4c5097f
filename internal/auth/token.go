package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/seditalia/accessi/internal/models"
)

// TokenManager mints and parses session tokens. Parsing checks signature
// and expiry only; revocation is the SessionVerifier's job.
type TokenManager struct {
	secret              string
	sessionExpiry       time.Duration
	impersonationExpiry time.Duration
}

func NewTokenManager(secret string, sessionExpiry, impersonationExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:              secret,
		sessionExpiry:       sessionExpiry,
		impersonationExpiry: impersonationExpiry,
	}
}

// Issue mints a session token for the given user with a fresh jti.
func (tm *TokenManager) Issue(user *models.User) (string, error) {
	return tm.sign(user, tm.sessionExpiry)
}

// IssueImpersonation mints a token carrying the target's identity with the
// shortened support-session lifetime. The token itself cannot prove who
// initiated it; the caller must audit both identities.
func (tm *TokenManager) IssueImpersonation(target *models.User) (string, error) {
	return tm.sign(target, tm.impersonationExpiry)
}

// SessionExpiry returns the normal session lifetime, used to size cookies
// and revocation ledger entries.
func (tm *TokenManager) SessionExpiry() time.Duration {
	return tm.sessionExpiry
}

// ImpersonationExpiry returns the support-session lifetime.
func (tm *TokenManager) ImpersonationExpiry() time.Duration {
	return tm.impersonationExpiry
}

func (tm *TokenManager) sign(user *models.User, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.SessionClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, nil
}

// Parse verifies signature and expiry and returns the embedded claims.
func (tm *TokenManager) Parse(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("invalid token: missing identity")
	}

	return claims, nil
}
