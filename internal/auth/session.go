package auth

import (
	"context"

	"github.com/seditalia/accessi/internal/models"
)

// RevocationChecker looks up a jti in the revocation ledger.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// UserFetcher loads the token owner's row for the revoked-all check.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SessionVerifier performs full token verification: signature, expiry,
// jti blacklist, and the owner's revoked-all-before timestamp. Any store
// failure during the lookups yields invalid, never a live session.
type SessionVerifier struct {
	tm          *TokenManager
	revocations RevocationChecker
	users       UserFetcher
}

func NewSessionVerifier(tm *TokenManager, revocations RevocationChecker, users UserFetcher) *SessionVerifier {
	return &SessionVerifier{
		tm:          tm,
		revocations: revocations,
		users:       users,
	}
}

// Verify validates a bearer token and returns its identity claims.
// Checks run cheapest first: signature and expiry locally, then one ledger
// read, then one user-row read.
func (sv *SessionVerifier) Verify(ctx context.Context, tokenString string) (*models.SessionClaims, error) {
	claims, err := sv.tm.Parse(tokenString)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	// Tokens minted before jti support carry no revocation key and are
	// accepted on signature and expiry alone.
	if claims.ID == "" {
		return claims, nil
	}

	revoked, err := sv.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}
	if revoked {
		return nil, models.ErrUnauthorized
	}

	user, err := sv.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if user.RevokedAllAt != nil && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.Before(*user.RevokedAllAt) {
			return nil, models.ErrUnauthorized
		}
	}

	return claims, nil
}
