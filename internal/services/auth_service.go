package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/config"
	"github.com/seditalia/accessi/internal/models"
	pkgauth "github.com/seditalia/accessi/pkg/auth"
)

// UserRepository defines the user store operations the services need
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	RevokeAllSessions(ctx context.Context, id string) error
}

// DeviceRepository defines the device registry operations
type DeviceRepository interface {
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error)
	GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error)
	Create(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
	UpsertApproved(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error)
	Touch(ctx context.Context, id, ip, userAgent string) error
	SetApproved(ctx context.Context, id string, approved bool) error
	ListByUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	RevokeAllForUser(ctx context.Context, userID string) error
	Delete(ctx context.Context, id string) error
}

// OTPRepository defines the one-time challenge store operations
type OTPRepository interface {
	Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error)
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// TokenRevocationRepository defines the revocation ledger operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// LoginResult is the outcome of a successful (or code-pending) login.
type LoginResult struct {
	Token       string
	ExpiresIn   time.Duration
	Role        string
	User        *models.User
	MFARequired bool // set in otp mode when a challenge was issued instead of a token
}

// AuthService is the login state machine: credentials, account state,
// device trust, token issuance. One request is one sequential chain of
// store calls; each branch depends on the previous result.
type AuthService struct {
	users           UserRepository
	devices         DeviceRepository
	challenges      OTPRepository
	revocations     TokenRevocationRepository
	tm              *auth.TokenManager
	audit           *AuditService
	logger          *slog.Logger
	deviceTrustMode string
	otpExpiry       time.Duration
}

func NewAuthService(
	users UserRepository,
	devices DeviceRepository,
	challenges OTPRepository,
	revocations TokenRevocationRepository,
	tm *auth.TokenManager,
	audit *AuditService,
	logger *slog.Logger,
	cfg *config.AuthConfig,
) *AuthService {
	return &AuthService{
		users:           users,
		devices:         devices,
		challenges:      challenges,
		revocations:     revocations,
		tm:              tm,
		audit:           audit,
		logger:          logger,
		deviceTrustMode: cfg.DeviceTrustMode,
		otpExpiry:       cfg.OTPExpiry,
	}
}

// Login runs the full authentication sequence. Credential failures are
// always models.ErrUnauthorized with no hint of which field was wrong;
// pending-approval outcomes carry their own sentinels so the client can
// render a wait screen instead of a retry prompt.
func (s *AuthService) Login(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*LoginResult, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn one bcrypt comparison so unknown identifiers cost
			// the same as wrong passwords.
			pkgauth.BurnCompare(password)
			s.logger.Info("login failed: invalid credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		return nil, models.ErrUnauthorized
	}

	// Account gating comes after the password check so a pending-approval
	// response never confirms a guessed password was wrong.
	if !user.Active {
		s.logger.Info("login blocked: account pending approval", slog.String("user_id", user.ID))
		return nil, models.ErrAccountPending
	}

	// Fingerprinting is best-effort; clients that send none skip device
	// gating entirely.
	if fingerprint != "" {
		outcome, err := s.gateDevice(ctx, user, fingerprint, ip, userAgent)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}

	return s.issueSession(ctx, user, fingerprint, ip)
}

// gateDevice applies the configured device-trust model. A nil, nil return
// means the device is trusted and login proceeds to token issuance; a
// non-nil LoginResult short-circuits into the mfa_required response.
func (s *AuthService) gateDevice(ctx context.Context, user *models.User, fingerprint, ip, userAgent string) (*LoginResult, error) {
	switch s.deviceTrustMode {
	case config.DeviceTrustOTP:
		return s.gateDeviceOTP(ctx, user, fingerprint, ip, userAgent)
	default:
		return nil, s.gateDeviceApproval(ctx, user, fingerprint, ip, userAgent)
	}
}

// gateDeviceApproval implements administrator-gated device trust: unknown
// and pending devices block non-admin logins until approved out-of-band.
func (s *AuthService) gateDeviceApproval(ctx context.Context, user *models.User, fingerprint, ip, userAgent string) error {
	device, err := s.devices.GetByUserAndFingerprint(ctx, user.ID, fingerprint)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up device", slog.Any("error", err))
			return models.ErrInternalServer
		}

		// Brand-new device: enroll it. Admins self-approve so a lost
		// approval can never lock every administrator out.
		enrolled := &models.DeviceFingerprint{
			UserID:      user.ID,
			Fingerprint: fingerprint,
			Label:       "New Device",
			Approved:    user.IsAdmin(),
			LastIP:      ip,
			UserAgent:   userAgent,
		}
		created, err := s.devices.Create(ctx, enrolled)
		if err != nil {
			s.logger.Error("failed to enroll device", slog.Any("error", err))
			return models.ErrInternalServer
		}

		if created.Approved {
			s.audit.Record(models.AuditDeviceAutoApprovedAdmin, user.ID, ip, fingerprint,
				map[string]string{"userAgent": userAgent})
			return nil
		}

		s.audit.Record(models.AuditDeviceEnrollmentPending, user.ID, ip, fingerprint,
			map[string]string{"userAgent": userAgent})
		return models.ErrDevicePending
	}

	if !device.Approved {
		if user.IsAdmin() {
			// Emergency bypass: a pending admin device approves itself.
			if err := s.devices.SetApproved(ctx, device.ID, true); err != nil {
				s.logger.Error("failed to approve admin device", slog.Any("error", err))
				return models.ErrInternalServer
			}
			s.audit.Record(models.AuditDeviceAutoApprovedAdmin, user.ID, ip, fingerprint,
				map[string]string{"note": "auto-approved during emergency bypass"})
			return nil
		}

		s.audit.RecordFailure(models.AuditLoginBlockedPending, user.ID, ip, fingerprint, "device pending approval")
		return models.ErrDevicePending
	}

	if err := s.devices.Touch(ctx, device.ID, ip, userAgent); err != nil {
		s.logger.Error("failed to refresh device", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// gateDeviceOTP implements self-service device trust: the first-ever
// device is trusted outright, later unknown devices must redeem a
// one-time code.
func (s *AuthService) gateDeviceOTP(ctx context.Context, user *models.User, fingerprint, ip, userAgent string) (*LoginResult, error) {
	device, err := s.devices.GetByUserAndFingerprint(ctx, user.ID, fingerprint)
	if err == nil && device.Approved {
		if err := s.devices.Touch(ctx, device.ID, ip, userAgent); err != nil {
			s.logger.Error("failed to refresh device", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return nil, nil
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up device", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	count, err := s.devices.CountByUser(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to count devices", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if count == 0 {
		// First-ever device for this account: trust it without a code.
		if _, err := s.devices.UpsertApproved(ctx, user.ID, fingerprint, "First Device", ip, userAgent); err != nil {
			s.logger.Error("failed to enroll first device", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return nil, nil
	}

	code, err := generateOTPCode()
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	challenge := &models.OTPChallenge{
		UserID:      user.ID,
		Fingerprint: fingerprint,
		Code:        code,
		ExpiresAt:   time.Now().Add(s.otpExpiry),
	}
	if _, err := s.challenges.Create(ctx, challenge); err != nil {
		s.logger.Error("failed to store verification challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditOTPChallengeCreated, user.ID, ip, fingerprint,
		map[string]string{"userAgent": userAgent})
	s.logger.Info("verification code issued", slog.String("user_id", user.ID))

	return &LoginResult{MFARequired: true}, nil
}

// VerifyOTP redeems a verification code for a session. The fifth wrong
// submission deletes the challenge permanently; the caller must restart
// login for a fresh one.
func (s *AuthService) VerifyOTP(ctx context.Context, identifier, fingerprint, code string) (*LoginResult, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || fingerprint == "" || code == "" {
		return nil, models.ErrBadRequest
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNoChallenge
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	challenge, err := s.challenges.GetByUserAndFingerprint(ctx, user.ID, fingerprint)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNoChallenge
		}
		s.logger.Error("failed to look up challenge", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if challenge.Expired(time.Now()) {
		return nil, models.ErrChallengeExpired
	}

	if challenge.Code != code {
		attempts, err := s.challenges.IncrementAttempts(ctx, challenge.ID)
		if err != nil {
			s.logger.Error("failed to count attempt", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		if attempts >= models.OTPMaxAttempts {
			if err := s.challenges.Delete(ctx, challenge.ID); err != nil {
				s.logger.Error("failed to delete exhausted challenge", slog.Any("error", err))
			}
			return nil, models.ErrNoChallenge
		}
		return nil, &models.OTPAttemptError{Remaining: models.OTPMaxAttempts - attempts}
	}

	if _, err := s.devices.UpsertApproved(ctx, user.ID, fingerprint, "Authorized Device", "", ""); err != nil {
		s.logger.Error("failed to authorize device", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := s.challenges.Delete(ctx, challenge.ID); err != nil {
		s.logger.Error("failed to delete redeemed challenge", slog.Any("error", err))
	}

	s.audit.Record(models.AuditDeviceAuthorizedOTP, user.ID, "", fingerprint, nil)

	return s.issueSession(ctx, user, fingerprint, "")
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, fingerprint, ip string) (*LoginResult, error) {
	token, err := s.tm.Issue(user)
	if err != nil {
		s.logger.Error("failed to issue session token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.Record(models.AuditLoginSuccess, user.ID, ip, fingerprint, nil)
	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &LoginResult{
		Token:     token,
		ExpiresIn: s.tm.SessionExpiry(),
		Role:      user.Role,
		User:      user,
	}, nil
}

// Logout revokes the presented token's jti so the session dies server-side
// even though the client also drops the cookie.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.tm.Parse(tokenString)
	if err != nil {
		return models.ErrUnauthorized
	}

	// Legacy tokens carry no jti; clearing the cookie is all we can do.
	if claims.ID == "" {
		return nil
	}

	if err := s.revocations.RevokeToken(ctx, claims.ID, claims.UserID, claims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("jti", claims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// Register creates an inactive B2B account awaiting administrative
// approval. The username doubles as the email address.
func (s *AuthService) Register(ctx context.Context, email, password, companyName, vat, address string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || companyName == "" || vat == "" || address == "" {
		return models.ErrBadRequest
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %s", models.ErrBadRequest, err)
	}

	if _, err := s.users.GetByIdentifier(ctx, email); err == nil {
		s.logger.Info("registration rejected: account exists")
		return models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing account", slog.Any("error", err))
		return models.ErrInternalServer
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	user := &models.User{
		Username:     email,
		Email:        email,
		PasswordHash: hash,
		Role:         "user",
		Active:       false,
		CompanyName:  companyName,
		VAT:          vat,
		Address:      address,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("account registered, pending approval", slog.String("user_id", created.ID))
	return nil
}

// generateOTPCode returns a random numeric code of models.OTPCodeLength digits.
func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < models.OTPCodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", models.OTPCodeLength, n), nil
}
