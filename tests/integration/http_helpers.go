package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/config"
	"github.com/seditalia/accessi/internal/handlers"
	"github.com/seditalia/accessi/internal/routes"
	"github.com/seditalia/accessi/internal/services"
	pkglogger "github.com/seditalia/accessi/pkg/logger"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To    string
	Token string
}

// CapturingEmailService records emails for test assertions
type CapturingEmailService struct {
	mu     sync.Mutex
	Resets []SentEmail
	Notices []string
}

func (m *CapturingEmailService) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets = append(m.Resets, SentEmail{To: email, Token: token})
	return nil
}

func (m *CapturingEmailService) SendImpersonationNotice(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notices = append(m.Notices, email)
	return nil
}

// LastResetToken returns the token from the most recent reset email
func (m *CapturingEmailService) LastResetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Resets) == 0 {
		return ""
	}
	return m.Resets[len(m.Resets)-1].Token
}

// TestServer wraps httptest.Server with the full application wired against
// a real database and a capturing email backend.
type TestServer struct {
	Server *httptest.Server
	Repos  *Repos
	Email  *CapturingEmailService
	Config *config.AuthConfig
}

// NewTestServer builds the complete router the way cmd/api does, minus rate
// limiting side effects that matter for tests (limits stay in place).
func NewTestServer(testDB *TestDB, deviceTrustMode string) *TestServer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	authCfg := &config.AuthConfig{
		JWTSecret:           "integration-test-secret-32-chars!!",
		SessionExpiry:       8 * time.Hour,
		ImpersonationExpiry: 30 * time.Minute,
		DeviceTrustMode:     deviceTrustMode,
		OTPExpiry:           10 * time.Minute,
		ResetTokenExpiry:    30 * time.Minute,
		CookieName:          "b2b_session",
	}

	repos := InitializeRepositories(testDB.DB)
	email := &CapturingEmailService{}

	tokenManager := auth.NewTokenManager(authCfg.JWTSecret, authCfg.SessionExpiry, authCfg.ImpersonationExpiry)
	verifier := auth.NewSessionVerifier(tokenManager, repos.Revocations, repos.Users)

	auditService := services.NewAuditService(repos.AuditLogs, pkglogger.NewAuditLogger(logger), logger)
	authService := services.NewAuthService(repos.Users, repos.Devices, repos.Challenges, repos.Revocations, tokenManager, auditService, logger, authCfg)
	adminService := services.NewAdminService(repos.Users, repos.Devices, tokenManager, email, auditService, logger)
	resetService := services.NewPasswordResetService(repos.Users, repos.Resets, email, auditService, logger, authCfg.ResetTokenExpiry)

	cookies := auth.CookieConfig{Name: authCfg.CookieName}
	authHandler := handlers.NewAuthHandler(authService, resetService, cookies, nil)
	adminHandler := handlers.NewAdminHandler(adminService, auditService, cookies, nil)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Recoverer)
	routes.RegisterRoutes(router, authHandler, adminHandler, verifier, repos.Users, authCfg.CookieName)

	return &TestServer{
		Server: httptest.NewServer(router),
		Repos:  repos,
		Email:  email,
		Config: authCfg,
	}
}

// Close shuts the test server down
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// PostJSON sends a JSON request, attaching the session cookie when set.
func (ts *TestServer) PostJSON(path string, body interface{}, sessionCookie *http.Cookie) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest("POST", ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionCookie != nil {
		req.AddCookie(sessionCookie)
	}

	return http.DefaultClient.Do(req)
}

// PatchJSON sends a PATCH request with a JSON body and session cookie
func (ts *TestServer) PatchJSON(path string, body interface{}, sessionCookie *http.Cookie) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest("PATCH", ts.Server.URL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionCookie != nil {
		req.AddCookie(sessionCookie)
	}

	return http.DefaultClient.Do(req)
}

// GetJSON sends a GET request with an optional session cookie
func (ts *TestServer) GetJSON(path string, sessionCookie *http.Cookie) (*http.Response, error) {
	req, err := http.NewRequest("GET", ts.Server.URL+path, nil)
	if err != nil {
		return nil, err
	}
	if sessionCookie != nil {
		req.AddCookie(sessionCookie)
	}
	return http.DefaultClient.Do(req)
}

// SessionCookieFrom pulls the session cookie off a response
func SessionCookieFrom(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// DecodeBody decodes a JSON response body into target
func DecodeBody(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
