package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seditalia/accessi/internal/models"
	pkglogger "github.com/seditalia/accessi/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByIdentifierFunc   func(ctx context.Context, identifier string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	ListFunc              func(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetActiveFunc         func(ctx context.Context, id string, active bool) error
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string) error
	RevokeAllSessionsFunc func(ctx context.Context, id string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return nil
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) RevokeAllSessions(ctx context.Context, id string) error {
	if m.RevokeAllSessionsFunc != nil {
		return m.RevokeAllSessionsFunc(ctx, id)
	}
	return nil
}

// MockDeviceRepository implements DeviceRepository for testing
type MockDeviceRepository struct {
	GetByUserAndFingerprintFunc func(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error)
	GetByIDFunc                 func(ctx context.Context, id string) (*models.DeviceFingerprint, error)
	CreateFunc                  func(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
	UpsertApprovedFunc          func(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error)
	TouchFunc                   func(ctx context.Context, id, ip, userAgent string) error
	SetApprovedFunc             func(ctx context.Context, id string, approved bool) error
	ListByUserFunc              func(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	CountByUserFunc             func(ctx context.Context, userID string) (int, error)
	RevokeAllForUserFunc        func(ctx context.Context, userID string) error
	DeleteFunc                  func(ctx context.Context, id string) error
}

func (m *MockDeviceRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
	if m.GetByUserAndFingerprintFunc != nil {
		return m.GetByUserAndFingerprintFunc(ctx, userID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceRepository) Create(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, device)
	}
	return device, nil
}

func (m *MockDeviceRepository) UpsertApproved(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error) {
	if m.UpsertApprovedFunc != nil {
		return m.UpsertApprovedFunc(ctx, userID, fingerprint, label, ip, userAgent)
	}
	return &models.DeviceFingerprint{UserID: userID, Fingerprint: fingerprint, Approved: true}, nil
}

func (m *MockDeviceRepository) Touch(ctx context.Context, id, ip, userAgent string) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, ip, userAgent)
	}
	return nil
}

func (m *MockDeviceRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	if m.SetApprovedFunc != nil {
		return m.SetApprovedFunc(ctx, id, approved)
	}
	return nil
}

func (m *MockDeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	return []*models.DeviceFingerprint{}, nil
}

func (m *MockDeviceRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	if m.CountByUserFunc != nil {
		return m.CountByUserFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockDeviceRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID)
	}
	return nil
}

func (m *MockDeviceRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockOTPRepository implements OTPRepository for testing
type MockOTPRepository struct {
	CreateFunc                  func(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error)
	GetByUserAndFingerprintFunc func(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error)
	IncrementAttemptsFunc       func(ctx context.Context, id string) (int, error)
	DeleteFunc                  func(ctx context.Context, id string) error
}

func (m *MockOTPRepository) Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, challenge)
	}
	return challenge, nil
}

func (m *MockOTPRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
	if m.GetByUserAndFingerprintFunc != nil {
		return m.GetByUserAndFingerprintFunc(ctx, userID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockOTPRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, id)
	}
	return 1, nil
}

func (m *MockOTPRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeTokenFunc    func(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevokedFunc func(ctx context.Context, jti string) (bool, error)
}

func (m *MockTokenRevocationRepository) RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, jti, userID, expiresAt, reason)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if m.IsTokenRevokedFunc != nil {
		return m.IsTokenRevokedFunc(ctx, jti)
	}
	return false, nil
}

// MockResetTokenRepository implements ResetTokenRepository for testing
type MockResetTokenRepository struct {
	CreateFunc     func(ctx context.Context, reset *models.PasswordReset) (*models.PasswordReset, error)
	GetByTokenFunc func(ctx context.Context, token string) (*models.PasswordReset, error)
	MarkUsedFunc   func(ctx context.Context, id string) error
}

func (m *MockResetTokenRepository) Create(ctx context.Context, reset *models.PasswordReset) (*models.PasswordReset, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, reset)
	}
	return reset, nil
}

func (m *MockResetTokenRepository) GetByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockResetTokenRepository) MarkUsed(ctx context.Context, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, id)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendPasswordResetEmailFunc func(ctx context.Context, email, token string) error
	SendImpersonationNoticeFunc func(ctx context.Context, email string) error
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token)
	}
	return nil
}

func (m *MockEmailService) SendImpersonationNotice(ctx context.Context, email string) error {
	if m.SendImpersonationNoticeFunc != nil {
		return m.SendImpersonationNoticeFunc(ctx, email)
	}
	return nil
}

// RecordingAuditRepository captures audit entries written through the
// service, including those dispatched asynchronously.
type RecordingAuditRepository struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *RecordingAuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *RecordingAuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditLog, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *RecordingAuditRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range r.entries {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns the recorded action names in write order.
func (r *RecordingAuditRepository) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// WaitForActions polls until at least n audit entries have landed, since
// persistence happens on a goroutine.
func (r *RecordingAuditRepository) WaitForActions(n int) []string {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		count := len(r.entries)
		r.mu.Unlock()
		if count >= n {
			return r.Actions()
		}
		time.Sleep(10 * time.Millisecond)
	}
	return r.Actions()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditService(repo AuditLogRepository) *AuditService {
	l := testLogger()
	return NewAuditService(repo, pkglogger.NewAuditLogger(l), l)
}
