package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seditalia/accessi/internal/models"
	pkgauth "github.com/seditalia/accessi/pkg/auth"
	"github.com/seditalia/accessi/pkg/logger"
)

// ResetTokenRepository defines the password-reset token store operations
type ResetTokenRepository interface {
	Create(ctx context.Context, reset *models.PasswordReset) (*models.PasswordReset, error)
	GetByToken(ctx context.Context, token string) (*models.PasswordReset, error)
	MarkUsed(ctx context.Context, id string) error
}

// PasswordResetService handles the forgot-password round trip: single-use
// emailed tokens, and a global session revocation once the password changes.
type PasswordResetService struct {
	users       UserRepository
	resets      ResetTokenRepository
	email       EmailService
	audit       *AuditService
	logger      *slog.Logger
	tokenExpiry time.Duration
}

func NewPasswordResetService(
	users UserRepository,
	resets ResetTokenRepository,
	email EmailService,
	audit *AuditService,
	logger *slog.Logger,
	tokenExpiry time.Duration,
) *PasswordResetService {
	return &PasswordResetService{
		users:       users,
		resets:      resets,
		email:       email,
		audit:       audit,
		logger:      logger,
		tokenExpiry: tokenExpiry,
	}
}

// Request issues a reset token for the account behind the identifier. The
// caller always gets a nil error for unknown or inactive accounts, so the
// endpoint never reveals whether an address is registered.
func (s *PasswordResetService) Request(ctx context.Context, identifier, ip string) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("reset requested for unknown account",
				slog.String("identifier", logger.SanitizedEmail(identifier)))
			return nil
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !user.Active {
		s.logger.Info("reset requested for inactive account", slog.String("user_id", user.ID))
		return nil
	}
	if user.Email == "" {
		s.logger.Warn("reset requested for account without email", slog.String("user_id", user.ID))
		return nil
	}

	token, err := pkgauth.GenerateResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	reset := &models.PasswordReset{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: time.Now().Add(s.tokenExpiry),
	}
	if _, err := s.resets.Create(ctx, reset); err != nil {
		s.logger.Error("failed to store reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.SendPasswordResetEmail(ctx, user.Email, token); err != nil {
		s.logger.Error("failed to send reset email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.Record(models.AuditPasswordResetRequested, user.ID, ip, "", nil)
	return nil
}

// Reset redeems a token for a new password. A successful reset stamps
// revoked_all_at, so every session issued before this moment is dead.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword, ip string) error {
	if token == "" {
		return models.ErrBadRequest
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %s", models.ErrBadRequest, err)
	}

	reset, err := s.resets.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !reset.Usable(time.Now()) {
		return models.ErrUnauthorized
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// UpdatePassword stamps revoked_all_at in the same statement, so
	// there is no window where the new password coexists with old sessions.
	if err := s.users.UpdatePassword(ctx, reset.UserID, hash); err != nil {
		s.logger.Error("failed to update password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.resets.MarkUsed(ctx, reset.ID); err != nil {
		// The token row is already behind a used password change; log and
		// move on rather than failing the reset.
		s.logger.Error("failed to mark reset token used", slog.Any("error", err))
	}

	s.audit.Record(models.AuditPasswordResetSuccess, reset.UserID, ip, "", nil)
	s.logger.Info("password reset completed", slog.String("user_id", reset.UserID))
	return nil
}
