package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/handlers"
	"github.com/seditalia/accessi/internal/models"
	"github.com/seditalia/accessi/internal/services"
)

var testCookies = auth.CookieConfig{Name: "b2b_session", Secure: false}

func newAuthHandler(svc *handlers.MockAuthService, resets *handlers.MockPasswordResetService) *handlers.AuthHandler {
	if svc == nil {
		svc = &handlers.MockAuthService{}
	}
	if resets == nil {
		resets = &handlers.MockPasswordResetService{}
	}
	return handlers.NewAuthHandler(svc, resets, testCookies, nil)
}

func TestLoginHandler_SetsSessionCookie(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
			assert.Equal(t, "mario@poltrone.it", identifier)
			assert.Equal(t, "fp-123", fingerprint)
			return &services.LoginResult{Token: "signed.jwt.token", ExpiresIn: 8 * time.Hour, Role: "user"}, nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier:  "mario@poltrone.it",
		Password:    "password123",
		Fingerprint: "fp-123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.OK)
	assert.Equal(t, "user", resp.Role)
	assert.Equal(t, int64(8*3600), resp.ExpiresIn)

	cookie := handlers.SessionCookie(w, "b2b_session")
	require.NotNil(t, cookie)
	assert.Equal(t, "signed.jwt.token", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier: "mario@poltrone.it",
		Password:   "wrong",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.Nil(t, handlers.SessionCookie(w, "b2b_session"))
}

func TestLoginHandler_AccountPendingApproval(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
			return nil, models.ErrAccountPending
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier: "mario@poltrone.it",
		Password:   "password123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 403, "approval_required")
	assert.Contains(t, w.Body.String(), `"approval_required":true`)
}

func TestLoginHandler_DevicePendingApproval(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
			return nil, models.ErrDevicePending
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier:  "mario@poltrone.it",
		Password:    "password123",
		Fingerprint: "fp-new",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 403, "approval_required")
}

func TestLoginHandler_MFARequired(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
			return &services.LoginResult{MFARequired: true}, nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier:  "mario@poltrone.it",
		Password:    "password123",
		Fingerprint: "fp-new",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.MFAResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp.OK)
	assert.True(t, resp.MFARequired)
	assert.Nil(t, handlers.SessionCookie(w, "b2b_session"))
}

func TestLoginHandler_MissingFields(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Identifier: "mario@poltrone.it",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestVerifyOTPHandler_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		VerifyOTPFunc: func(ctx context.Context, identifier, fingerprint, code string) (*services.LoginResult, error) {
			assert.Equal(t, "123456", code)
			return &services.LoginResult{Token: "signed.jwt.token", ExpiresIn: 8 * time.Hour, Role: "user"}, nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-otp", handlers.VerifyOTPRequest{
		Identifier:  "mario@poltrone.it",
		Fingerprint: "fp-new",
		Code:        "123456",
	})

	w := httptest.NewRecorder()
	handler.VerifyOTP(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.OK)
	require.NotNil(t, handlers.SessionCookie(w, "b2b_session"))
}

func TestVerifyOTPHandler_WrongCode(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		VerifyOTPFunc: func(ctx context.Context, identifier, fingerprint, code string) (*services.LoginResult, error) {
			return nil, &models.OTPAttemptError{Remaining: 2}
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-otp", handlers.VerifyOTPRequest{
		Identifier:  "mario@poltrone.it",
		Fingerprint: "fp-new",
		Code:        "000000",
	})

	w := httptest.NewRecorder()
	handler.VerifyOTP(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.Contains(t, w.Body.String(), "2 attempts remaining")
}

func TestVerifyOTPHandler_RejectsNonNumericCode(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-otp", handlers.VerifyOTPRequest{
		Identifier:  "mario@poltrone.it",
		Fingerprint: "fp-new",
		Code:        "abc123",
	})

	w := httptest.NewRecorder()
	handler.VerifyOTP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestLogoutHandler_ClearsCookie(t *testing.T) {
	var revokedToken string
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, tokenString string) error {
			revokedToken = tokenString
			return nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "b2b_session", Value: "signed.jwt.token"})

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "signed.jwt.token", revokedToken)

	cookie := handlers.SessionCookie(w, "b2b_session")
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestLogoutHandler_NoSession(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestRegisterHandler_Accepted(t *testing.T) {
	var registered bool
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, companyName, vat, address string) error {
			registered = true
			assert.Equal(t, "Sedie SRL", companyName)
			return nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:       "nuovo@cliente.it",
		Password:    "password123",
		CompanyName: "Sedie SRL",
		VAT:         "IT01234567890",
		Address:     "Via Roma 1, Milano",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	assert.Equal(t, 202, w.Code)
	assert.True(t, registered)
}

func TestRegisterHandler_DuplicateGetsSameResponse(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, email, password, companyName, vat, address string) error {
			return models.ErrConflict
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Email:       "esiste@cliente.it",
		Password:    "password123",
		CompanyName: "Sedie SRL",
		VAT:         "IT01234567890",
		Address:     "Via Roma 1, Milano",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	// Duplicates are indistinguishable from fresh registrations.
	assert.Equal(t, 202, w.Code)
}

func TestSessionHandler_ReturnsClaims(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "GET", "/auth/session", nil)
	req = handlers.WithSessionContext(req, "user-1", "mario@poltrone.it", "user")

	w := httptest.NewRecorder()
	handler.Session(w, req)

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Authenticated)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "user", resp.Role)
}

func TestSessionHandler_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "GET", "/auth/session", nil)

	w := httptest.NewRecorder()
	handler.Session(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestForgotPasswordHandler_AlwaysGeneric(t *testing.T) {
	handler := newAuthHandler(nil, &handlers.MockPasswordResetService{
		RequestFunc: func(ctx context.Context, identifier, ip string) error {
			return nil
		},
	})
	req := handlers.NewTestRequest(t, "POST", "/auth/forgot-password", handlers.ForgotPasswordRequest{
		Identifier: "chiunque@example.com",
	})

	w := httptest.NewRecorder()
	handler.ForgotPassword(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "If the account exists")
}

func TestResetPasswordHandler_Success(t *testing.T) {
	var gotToken string
	handler := newAuthHandler(nil, &handlers.MockPasswordResetService{
		ResetFunc: func(ctx context.Context, token, newPassword, ip string) error {
			gotToken = token
			return nil
		},
	})
	req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{
		Token:    "reset-token-abc",
		Password: "new-password-123",
	})

	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "reset-token-abc", gotToken)
}

func TestResetPasswordHandler_InvalidToken(t *testing.T) {
	handler := newAuthHandler(nil, &handlers.MockPasswordResetService{
		ResetFunc: func(ctx context.Context, token, newPassword, ip string) error {
			return models.ErrUnauthorized
		},
	})
	req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{
		Token:    "bogus",
		Password: "new-password-123",
	})

	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
