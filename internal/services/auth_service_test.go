package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/config"
	"github.com/seditalia/accessi/internal/models"
	pkgauth "github.com/seditalia/accessi/pkg/auth"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

func testAuthConfig(mode string) *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:           testSecret,
		SessionExpiry:       8 * time.Hour,
		ImpersonationExpiry: 30 * time.Minute,
		DeviceTrustMode:     mode,
		OTPExpiry:           10 * time.Minute,
	}
}

func newTestAuthService(
	mode string,
	users *MockUserRepository,
	devices *MockDeviceRepository,
	challenges *MockOTPRepository,
	revocations *MockTokenRevocationRepository,
	audit *RecordingAuditRepository,
) *AuthService {
	if audit == nil {
		audit = &RecordingAuditRepository{}
	}
	tm := auth.NewTokenManager(testSecret, 8*time.Hour, 30*time.Minute)
	return NewAuthService(users, devices, challenges, revocations, tm, testAuditService(audit), testLogger(), testAuthConfig(mode))
}

func testUserWith(t *testing.T, password, role string, active bool) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Username:     "mario@poltrone.it",
		Email:        "mario@poltrone.it",
		PasswordHash: hash,
		Role:         role,
		Active:       active,
	}
}

func TestLogin_ApprovedDevice(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	touched := false

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			assert.Equal(t, "mario@poltrone.it", identifier)
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{ID: "dev-1", UserID: userID, Fingerprint: fingerprint, Approved: true}, nil
		},
		TouchFunc: func(ctx context.Context, id, ip, userAgent string) error {
			touched = true
			return nil
		},
	}
	audit := &RecordingAuditRepository{}

	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, audit)

	result, err := svc.Login(context.Background(), "Mario@Poltrone.IT", "correct-horse", "fp-abc", "10.0.0.1", "Mozilla/5.0")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.False(t, result.MFARequired)
	assert.Equal(t, 8*time.Hour, result.ExpiresIn)
	assert.True(t, touched)
	assert.Contains(t, audit.WaitForActions(1), models.AuditLoginSuccess)
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	svc := newTestAuthService(config.DeviceTrustApproval, &MockUserRepository{}, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	_, err := svc.Login(context.Background(), "nobody@example.com", "whatever", "fp", "", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogin_WrongPassword(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	_, err := svc.Login(context.Background(), "mario@poltrone.it", "battery-staple", "fp", "", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogin_AccountPendingApproval(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", false)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	_, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp", "", "")
	assert.ErrorIs(t, err, models.ErrAccountPending)
}

func TestLogin_UnknownDeviceEnrollsPending(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	var created *models.DeviceFingerprint

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		CreateFunc: func(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
			created = device
			return device, nil
		},
	}
	audit := &RecordingAuditRepository{}
	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, audit)

	_, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp-new", "10.0.0.1", "Mozilla/5.0")
	assert.ErrorIs(t, err, models.ErrDevicePending)
	require.NotNil(t, created)
	assert.False(t, created.Approved)
	assert.Equal(t, "fp-new", created.Fingerprint)
	assert.Contains(t, audit.WaitForActions(1), models.AuditDeviceEnrollmentPending)
}

func TestLogin_UnknownDeviceAdminAutoApproved(t *testing.T) {
	admin := testUserWith(t, "correct-horse", "admin", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return admin, nil
		},
	}
	devices := &MockDeviceRepository{
		CreateFunc: func(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
			assert.True(t, device.Approved)
			return device, nil
		},
	}
	audit := &RecordingAuditRepository{}
	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, audit)

	result, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp-new", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	actions := audit.WaitForActions(2)
	assert.Contains(t, actions, models.AuditDeviceAutoApprovedAdmin)
	assert.Contains(t, actions, models.AuditLoginSuccess)
}

func TestLogin_PendingDeviceBlocked(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{ID: "dev-1", UserID: userID, Fingerprint: fingerprint, Approved: false}, nil
		},
	}
	audit := &RecordingAuditRepository{}
	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, audit)

	_, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp", "", "")
	assert.ErrorIs(t, err, models.ErrDevicePending)
	assert.Contains(t, audit.WaitForActions(1), models.AuditLoginBlockedPending)
}

func TestLogin_PendingDeviceAdminBypass(t *testing.T) {
	admin := testUserWith(t, "correct-horse", "admin", true)
	approvedID := ""

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return admin, nil
		},
	}
	devices := &MockDeviceRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
			return &models.DeviceFingerprint{ID: "dev-1", UserID: userID, Fingerprint: fingerprint, Approved: false}, nil
		},
		SetApprovedFunc: func(ctx context.Context, id string, approved bool) error {
			assert.True(t, approved)
			approvedID = id
			return nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	result, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "dev-1", approvedID)
}

func TestLogin_NoFingerprintSkipsDeviceGate(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
			t.Fatal("device lookup should not run without a fingerprint")
			return nil, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	result, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

func TestLogin_OTPMode_FirstDeviceTrusted(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	upserted := false

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		CountByUserFunc: func(ctx context.Context, userID string) (int, error) {
			return 0, nil
		},
		UpsertApprovedFunc: func(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error) {
			upserted = true
			return &models.DeviceFingerprint{UserID: userID, Fingerprint: fingerprint, Approved: true}, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, devices, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	result, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp-first", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.False(t, result.MFARequired)
	assert.True(t, upserted)
}

func TestLogin_OTPMode_NewDeviceChallenged(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	var challenge *models.OTPChallenge

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		CountByUserFunc: func(ctx context.Context, userID string) (int, error) {
			return 1, nil
		},
	}
	challenges := &MockOTPRepository{
		CreateFunc: func(ctx context.Context, c *models.OTPChallenge) (*models.OTPChallenge, error) {
			challenge = c
			return c, nil
		},
	}
	audit := &RecordingAuditRepository{}
	svc := newTestAuthService(config.DeviceTrustOTP, users, devices, challenges, &MockTokenRevocationRepository{}, audit)

	result, err := svc.Login(context.Background(), "mario@poltrone.it", "correct-horse", "fp-second", "", "")
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.Empty(t, result.Token)
	require.NotNil(t, challenge)
	assert.Len(t, challenge.Code, models.OTPCodeLength)
	assert.True(t, challenge.ExpiresAt.After(time.Now()))
	assert.Contains(t, audit.WaitForActions(1), models.AuditOTPChallengeCreated)
}

func TestVerifyOTP_Success(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	deleted := false
	authorized := false

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	devices := &MockDeviceRepository{
		UpsertApprovedFunc: func(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error) {
			authorized = true
			return &models.DeviceFingerprint{UserID: userID, Fingerprint: fingerprint, Approved: true}, nil
		},
	}
	challenges := &MockOTPRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
			return &models.OTPChallenge{ID: "ch-1", UserID: userID, Fingerprint: fingerprint, Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, devices, challenges, &MockTokenRevocationRepository{}, nil)

	result, err := svc.VerifyOTP(context.Background(), "mario@poltrone.it", "fp", "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.True(t, authorized)
	assert.True(t, deleted)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	challenges := &MockOTPRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
			return &models.OTPChallenge{ID: "ch-1", Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
		},
		IncrementAttemptsFunc: func(ctx context.Context, id string) (int, error) {
			return 2, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, &MockDeviceRepository{}, challenges, &MockTokenRevocationRepository{}, nil)

	_, err := svc.VerifyOTP(context.Background(), "mario@poltrone.it", "fp", "000000")
	var attemptErr *models.OTPAttemptError
	require.ErrorAs(t, err, &attemptErr)
	assert.Equal(t, 3, attemptErr.Remaining)
}

func TestVerifyOTP_AttemptsExhausted(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	deleted := false

	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	challenges := &MockOTPRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
			return &models.OTPChallenge{ID: "ch-1", Code: "123456", Attempts: 4, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
		},
		IncrementAttemptsFunc: func(ctx context.Context, id string) (int, error) {
			return models.OTPMaxAttempts, nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, &MockDeviceRepository{}, challenges, &MockTokenRevocationRepository{}, nil)

	_, err := svc.VerifyOTP(context.Background(), "mario@poltrone.it", "fp", "000000")
	assert.ErrorIs(t, err, models.ErrNoChallenge)
	assert.True(t, deleted)
}

func TestVerifyOTP_Expired(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	challenges := &MockOTPRepository{
		GetByUserAndFingerprintFunc: func(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
			return &models.OTPChallenge{ID: "ch-1", Code: "123456", ExpiresAt: time.Now().Add(-time.Minute)}, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, &MockDeviceRepository{}, challenges, &MockTokenRevocationRepository{}, nil)

	_, err := svc.VerifyOTP(context.Background(), "mario@poltrone.it", "fp", "123456")
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestVerifyOTP_NoChallenge(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustOTP, users, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	_, err := svc.VerifyOTP(context.Background(), "mario@poltrone.it", "fp", "123456")
	assert.ErrorIs(t, err, models.ErrNoChallenge)
}

func TestLogout_RevokesToken(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	tm := auth.NewTokenManager(testSecret, 8*time.Hour, 30*time.Minute)
	token, err := tm.Issue(user)
	require.NoError(t, err)

	var revokedJTI string
	revocations := &MockTokenRevocationRepository{
		RevokeTokenFunc: func(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
			revokedJTI = jti
			assert.Equal(t, user.ID, userID)
			assert.Equal(t, "logout", reason)
			return nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, &MockUserRepository{}, &MockDeviceRepository{}, &MockOTPRepository{}, revocations, nil)

	require.NoError(t, svc.Logout(context.Background(), token))
	assert.NotEmpty(t, revokedJTI)
}

func TestLogout_LegacyTokenWithoutJTI(t *testing.T) {
	// Tokens minted before jti tracking have nothing to revoke; logout
	// still succeeds.
	claims := &models.SessionClaims{
		UserID:   "user-1",
		Username: "mario@poltrone.it",
		Role:     "user",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	legacy, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	revocations := &MockTokenRevocationRepository{
		RevokeTokenFunc: func(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error {
			t.Fatal("nothing should be revoked for a legacy token")
			return nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, &MockUserRepository{}, &MockDeviceRepository{}, &MockOTPRepository{}, revocations, nil)

	assert.NoError(t, svc.Logout(context.Background(), legacy))
}

func TestLogout_InvalidToken(t *testing.T) {
	svc := newTestAuthService(config.DeviceTrustApproval, &MockUserRepository{}, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	err := svc.Logout(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRegister_CreatesInactiveAccount(t *testing.T) {
	var created *models.User
	users := &MockUserRepository{
		CreateFunc: func(ctx context.Context, user *models.User) (*models.User, error) {
			user.ID = "user-new"
			created = user
			return user, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	err := svc.Register(context.Background(), "Nuovo@Cliente.IT", "correct-horse", "Sedie SRL", "IT01234567890", "Via Roma 1, Milano")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.False(t, created.Active)
	assert.Equal(t, "user", created.Role)
	assert.Equal(t, "nuovo@cliente.it", created.Username)
	assert.Equal(t, "nuovo@cliente.it", created.Email)
	assert.NotEqual(t, "correct-horse", created.PasswordHash)
}

func TestRegister_DuplicateAccount(t *testing.T) {
	user := testUserWith(t, "correct-horse", "user", true)
	users := &MockUserRepository{
		GetByIdentifierFunc: func(ctx context.Context, identifier string) (*models.User, error) {
			return user, nil
		},
	}
	svc := newTestAuthService(config.DeviceTrustApproval, users, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	err := svc.Register(context.Background(), "mario@poltrone.it", "correct-horse", "Sedie SRL", "IT01234567890", "Via Roma 1")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	svc := newTestAuthService(config.DeviceTrustApproval, &MockUserRepository{}, &MockDeviceRepository{}, &MockOTPRepository{}, &MockTokenRevocationRepository{}, nil)

	err := svc.Register(context.Background(), "nuovo@cliente.it", "short", "Sedie SRL", "IT01234567890", "Via Roma 1")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestGenerateOTPCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateOTPCode()
		require.NoError(t, err)
		assert.Len(t, code, models.OTPCodeLength)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
