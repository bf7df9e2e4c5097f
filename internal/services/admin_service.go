package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/models"
)

// ImpersonationResult carries the short-lived session minted for an admin
// acting as another user.
type ImpersonationResult struct {
	Token     string
	ExpiresIn time.Duration
	Target    *models.User
}

// AdminService covers the operations behind the admin console: user
// approval, device approval, session revocation, impersonation.
type AdminService struct {
	users   UserRepository
	devices DeviceRepository
	tm      *auth.TokenManager
	email   EmailService
	audit   *AuditService
	logger  *slog.Logger
}

func NewAdminService(
	users UserRepository,
	devices DeviceRepository,
	tm *auth.TokenManager,
	email EmailService,
	audit *AuditService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		users:   users,
		devices: devices,
		tm:      tm,
		email:   email,
		audit:   audit,
		logger:  logger,
	}
}

// Impersonate mints a 30-minute session as the target user. Both
// identities land in the audit trail; admins cannot impersonate other
// admins. The courtesy email to the target is best-effort.
func (s *AdminService) Impersonate(ctx context.Context, actorID, targetID, ip string) (*ImpersonationResult, error) {
	if targetID == "" {
		return nil, models.ErrBadRequest
	}
	if targetID == actorID {
		return nil, models.ErrBadRequest
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to look up impersonation target", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if target.IsAdmin() {
		return nil, models.ErrForbidden
	}
	if !target.Active {
		return nil, models.ErrForbidden
	}

	token, err := s.tm.IssueImpersonation(target)
	if err != nil {
		s.logger.Error("failed to issue impersonation token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The audit row belongs to the admin: the minted token alone cannot
	// prove who initiated the session, so the actor is the record's user
	// and the target lives in the details.
	s.audit.Record(models.AuditImpersonationStart, actorID, ip, "", map[string]string{
		"targetUserId":   target.ID,
		"targetUsername": target.Username,
	})
	s.logger.Info("impersonation started",
		slog.String("actor_id", actorID),
		slog.String("target_id", target.ID))

	if target.Email != "" {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.email.SendImpersonationNotice(nctx, target.Email); err != nil {
				s.logger.Warn("failed to send impersonation notice", slog.Any("error", err))
			}
		}()
	}

	return &ImpersonationResult{
		Token:     token,
		ExpiresIn: s.tm.ImpersonationExpiry(),
		Target:    target,
	}, nil
}

// ListUsers returns a page of accounts for the admin console.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return users, nil
}

// SetUserActive flips an account's active flag. Activating records the
// approval in the audit trail; deactivating also revokes every session.
func (s *AdminService) SetUserActive(ctx context.Context, actorID, userID string, active bool, ip string) error {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to update account state", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if active {
		s.audit.Record(models.AuditUserApproved, userID, ip, "", map[string]string{"actorId": actorID})
		return nil
	}
	return s.RevokeAllSessions(ctx, actorID, userID, ip)
}

// RevokeAllSessions invalidates every outstanding token for a user and
// resets all of their device approvals. New logins must re-qualify each
// device.
func (s *AdminService) RevokeAllSessions(ctx context.Context, actorID, userID, ip string) error {
	if err := s.users.RevokeAllSessions(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke sessions", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.devices.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Error("failed to revoke devices", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.Record(models.AuditSessionsRevokedAll, userID, ip, "", map[string]string{"actorId": actorID})
	s.logger.Info("all sessions revoked", slog.String("user_id", userID), slog.String("actor_id", actorID))
	return nil
}

// ListDevices returns a user's enrolled devices.
func (s *AdminService) ListDevices(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	devices, err := s.devices.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list devices", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return devices, nil
}

// SetDeviceApproved approves or revokes a single enrolled device.
func (s *AdminService) SetDeviceApproved(ctx context.Context, actorID, deviceID string, approved bool, ip string) error {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to look up device", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.devices.SetApproved(ctx, deviceID, approved); err != nil {
		s.logger.Error("failed to update device", slog.Any("error", err))
		return models.ErrInternalServer
	}

	action := models.AuditDeviceApproved
	if !approved {
		action = models.AuditDeviceRevoked
	}
	s.audit.Record(action, device.UserID, ip, device.Fingerprint, map[string]string{"actorId": actorID})
	return nil
}

// DeleteDevice removes a device enrollment entirely. The user's next
// login from it starts over as an unknown device.
func (s *AdminService) DeleteDevice(ctx context.Context, actorID, deviceID, ip string) error {
	device, err := s.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to look up device", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.devices.Delete(ctx, deviceID); err != nil {
		s.logger.Error("failed to delete device", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.Record(models.AuditDeviceRevoked, device.UserID, ip, device.Fingerprint,
		map[string]string{"actorId": actorID, "deleted": "true"})
	return nil
}
