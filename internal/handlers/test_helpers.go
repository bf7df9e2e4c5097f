package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/models"
	"github.com/seditalia/accessi/internal/services"
	pkghttp "github.com/seditalia/accessi/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds session claims to request context for testing
// authenticated endpoints
func WithSessionContext(req *http.Request, userID, username, role string) *http.Request {
	claims := &models.SessionClaims{
		UserID:           userID,
		Username:         username,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{},
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// SessionCookie returns the session cookie set on the response, or nil.
func SessionCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc     func(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error)
	VerifyOTPFunc func(ctx context.Context, identifier, fingerprint, code string) (*services.LoginResult, error)
	LogoutFunc    func(ctx context.Context, tokenString string) error
	RegisterFunc  func(ctx context.Context, email, password, companyName, vat, address string) error
}

func (m *MockAuthService) Login(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, identifier, password, fingerprint, ip, userAgent)
}

func (m *MockAuthService) VerifyOTP(ctx context.Context, identifier, fingerprint, code string) (*services.LoginResult, error) {
	if m.VerifyOTPFunc == nil {
		return nil, models.ErrNoChallenge
	}
	return m.VerifyOTPFunc(ctx, identifier, fingerprint, code)
}

func (m *MockAuthService) Logout(ctx context.Context, tokenString string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, tokenString)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, companyName, vat, address string) error {
	if m.RegisterFunc == nil {
		return nil
	}
	return m.RegisterFunc(ctx, email, password, companyName, vat, address)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestFunc func(ctx context.Context, identifier, ip string) error
	ResetFunc   func(ctx context.Context, token, newPassword, ip string) error
}

func (m *MockPasswordResetService) Request(ctx context.Context, identifier, ip string) error {
	if m.RequestFunc == nil {
		return nil
	}
	return m.RequestFunc(ctx, identifier, ip)
}

func (m *MockPasswordResetService) Reset(ctx context.Context, token, newPassword, ip string) error {
	if m.ResetFunc == nil {
		return nil
	}
	return m.ResetFunc(ctx, token, newPassword, ip)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	ImpersonateFunc       func(ctx context.Context, actorID, targetID, ip string) (*services.ImpersonationResult, error)
	ListUsersFunc         func(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetUserActiveFunc     func(ctx context.Context, actorID, userID string, active bool, ip string) error
	RevokeAllSessionsFunc func(ctx context.Context, actorID, userID, ip string) error
	ListDevicesFunc       func(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	SetDeviceApprovedFunc func(ctx context.Context, actorID, deviceID string, approved bool, ip string) error
	DeleteDeviceFunc      func(ctx context.Context, actorID, deviceID, ip string) error
}

func (m *MockAdminService) Impersonate(ctx context.Context, actorID, targetID, ip string) (*services.ImpersonationResult, error) {
	if m.ImpersonateFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.ImpersonateFunc(ctx, actorID, targetID, ip)
}

func (m *MockAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc == nil {
		return []*models.User{}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

func (m *MockAdminService) SetUserActive(ctx context.Context, actorID, userID string, active bool, ip string) error {
	if m.SetUserActiveFunc == nil {
		return nil
	}
	return m.SetUserActiveFunc(ctx, actorID, userID, active, ip)
}

func (m *MockAdminService) RevokeAllSessions(ctx context.Context, actorID, userID, ip string) error {
	if m.RevokeAllSessionsFunc == nil {
		return nil
	}
	return m.RevokeAllSessionsFunc(ctx, actorID, userID, ip)
}

func (m *MockAdminService) ListDevices(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	if m.ListDevicesFunc == nil {
		return []*models.DeviceFingerprint{}, nil
	}
	return m.ListDevicesFunc(ctx, userID)
}

func (m *MockAdminService) SetDeviceApproved(ctx context.Context, actorID, deviceID string, approved bool, ip string) error {
	if m.SetDeviceApprovedFunc == nil {
		return nil
	}
	return m.SetDeviceApprovedFunc(ctx, actorID, deviceID, approved, ip)
}

func (m *MockAdminService) DeleteDevice(ctx context.Context, actorID, deviceID, ip string) error {
	if m.DeleteDeviceFunc == nil {
		return nil
	}
	return m.DeleteDeviceFunc(ctx, actorID, deviceID, ip)
}

// MockAuditReader implements AuditReader for testing
type MockAuditReader struct {
	ListFunc       func(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
	ListByUserFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

func (m *MockAuditReader) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListFunc == nil {
		return []*models.AuditLog{}, nil
	}
	return m.ListFunc(ctx, limit, offset)
}

func (m *MockAuditReader) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	if m.ListByUserFunc == nil {
		return []*models.AuditLog{}, nil
	}
	return m.ListByUserFunc(ctx, userID, limit, offset)
}
