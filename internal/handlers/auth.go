package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/models"
	"github.com/seditalia/accessi/internal/services"
	pkghttp "github.com/seditalia/accessi/pkg/http"
)

// AuthServiceInterface defines the interface for the session gate
type AuthServiceInterface interface {
	Login(ctx context.Context, identifier, password, fingerprint, ip, userAgent string) (*services.LoginResult, error)
	VerifyOTP(ctx context.Context, identifier, fingerprint, code string) (*services.LoginResult, error)
	Logout(ctx context.Context, tokenString string) error
	Register(ctx context.Context, email, password, companyName, vat, address string) error
}

// PasswordResetServiceInterface defines the interface for the reset flow
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, identifier, ip string) error
	Reset(ctx context.Context, token, newPassword, ip string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	resets   PasswordResetServiceInterface
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, resets PasswordResetServiceInterface, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		resets:   resets,
		cookies:  cookies,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Identifier  string `json:"identifier" validate:"required"`
	Password    string `json:"password" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=256"`
}

// VerifyOTPRequest represents the request body for code verification
type VerifyOTPRequest struct {
	Identifier  string `json:"identifier" validate:"required"`
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

// RegisterRequest represents the request body for B2B registration
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	CompanyName string `json:"company_name" validate:"required,min=2,max=200"`
	VAT         string `json:"vat" validate:"required,min=8,max=20"`
	Address     string `json:"address" validate:"required,min=5,max=300"`
}

// ForgotPasswordRequest represents the request body for a reset request
type ForgotPasswordRequest struct {
	Identifier string `json:"identifier" validate:"required"`
}

// ResetPasswordRequest represents the request body for redeeming a reset token
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Response DTOs

// LoginResponse is returned when a session was established
type LoginResponse struct {
	OK        bool   `json:"ok"`
	Role      string `json:"role"`
	ExpiresIn int64  `json:"expires_in"`
}

// MFAResponse is returned when a verification code is required first
type MFAResponse struct {
	OK          bool   `json:"ok"`
	MFARequired bool   `json:"mfa_required"`
	Message     string `json:"message"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.Login(r.Context(), req.Identifier, req.Password, req.Fingerprint, ipAddress, userAgent)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, MFAResponse{
			MFARequired: true,
			Message:     "A verification code is required for this device",
		})
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresIn, h.cookies)
	writeJSON(w, http.StatusOK, LoginResponse{
		OK:        true,
		Role:      result.Role,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
	})
}

// VerifyOTP redeems a device verification code for a session
// @Summary Verify device code
// @Accept json
// @Param request body VerifyOTPRequest true "Verification request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), req.Identifier, req.Fingerprint, req.Code)
	if err != nil {
		var attemptErr *models.OTPAttemptError
		switch {
		case errors.As(err, &attemptErr):
			pkghttp.WriteUnauthorized(w, attemptErr.Error())
		case errors.Is(err, models.ErrNoChallenge):
			pkghttp.WriteUnauthorized(w, "No active verification challenge, please log in again")
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteUnauthorized(w, "Verification code expired, please log in again")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresIn, h.cookies)
	writeJSON(w, http.StatusOK, LoginResponse{
		OK:        true,
		Role:      result.Role,
		ExpiresIn: int64(result.ExpiresIn.Seconds()),
	})
}

// Logout revokes the current session
// @Summary User logout
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// The cookie dies regardless of what the revocation store says.
	auth.ClearSessionCookie(w, h.cookies)

	token := auth.GetSessionToken(r, h.cookies.Name)
	if token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil && !errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Register handles B2B account registration
// @Summary Register a company account
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 202 {object} map[string]string
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.VAT = strings.TrimSpace(req.VAT)
	req.Address = strings.TrimSpace(req.Address)

	err := h.service.Register(r.Context(), req.Email, req.Password, req.CompanyName, req.VAT, req.Address)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			// Identical response for duplicates to prevent enumeration.
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
			return
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Registration received. The account will be activated after review.",
	})
}

// Session reports the authenticated identity behind the request
// @Summary Current session
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Authenticated: true,
		UserID:        claims.UserID,
		Username:      claims.Username,
		Role:          claims.Role,
	})
}

// ForgotPassword starts the reset flow
// @Summary Request a password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Reset request"
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.resets.Request(r.Context(), req.Identifier, ipAddress); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid request")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists, a reset email has been sent.",
	})
}

// ResetPassword redeems a reset token
// @Summary Complete a password reset
// @Accept json
// @Param request body ResetPasswordRequest true "Reset completion"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.resets.Reset(r.Context(), req.Token, req.Password, ipAddress); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated, please log in again."})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrAccountPending):
		pkghttp.WriteApprovalRequired(w, "Account pending approval")
	case errors.Is(err, models.ErrDevicePending):
		pkghttp.WriteApprovalRequired(w, "Device pending approval")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
