package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/seditalia/accessi/internal/models"
	pkglogger "github.com/seditalia/accessi/pkg/logger"
)

// AuditLogRepository defines the interface for audit trail persistence
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

// AuditService records security events to the database and the structured
// log. Persistence is dispatched on a goroutine and never blocks or fails
// the operation being audited; a lost row costs an audit entry, not a login.
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

func NewAuditService(repo AuditLogRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Record captures one audit event. userID and deviceID may be empty.
func (s *AuditService) Record(action, userID, ip, deviceID string, details map[string]string) {
	event := pkglogger.AuditEvent{
		Action:    action,
		UserID:    userID,
		IPAddress: ip,
		DeviceID:  deviceID,
		Success:   true,
		Metadata:  details,
	}
	s.auditLogger.Log(event)

	entry := &models.AuditLog{
		Action:    action,
		IPAddress: ip,
		Details:   details,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if deviceID != "" {
		entry.DeviceID = &deviceID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.Create(ctx, entry); err != nil {
			s.logger.Error("failed to persist audit entry",
				slog.String("action", action),
				slog.Any("error", err))
		}
	}()
}

// RecordFailure captures a denied or blocked event.
func (s *AuditService) RecordFailure(action, userID, ip, deviceID, reason string) {
	event := pkglogger.AuditEvent{
		Action:    action,
		UserID:    userID,
		IPAddress: ip,
		DeviceID:  deviceID,
		Success:   false,
		Reason:    reason,
	}
	s.auditLogger.Log(event)

	entry := &models.AuditLog{
		Action:    action,
		IPAddress: ip,
		Details:   map[string]string{"reason": reason},
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if deviceID != "" {
		entry.DeviceID = &deviceID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.repo.Create(ctx, entry); err != nil {
			s.logger.Error("failed to persist audit entry",
				slog.String("action", action),
				slog.Any("error", err))
		}
	}()
}

// List returns recent audit entries for the admin console.
func (s *AuditService) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// ListByUser returns one account's audit trail, newest first.
func (s *AuditService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
