package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/models"
	"github.com/seditalia/accessi/internal/services"
	pkghttp "github.com/seditalia/accessi/pkg/http"
)

// AdminServiceInterface defines the admin console service contract.
type AdminServiceInterface interface {
	Impersonate(ctx context.Context, actorID, targetID, ip string) (*services.ImpersonationResult, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetUserActive(ctx context.Context, actorID, userID string, active bool, ip string) error
	RevokeAllSessions(ctx context.Context, actorID, userID, ip string) error
	ListDevices(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	SetDeviceApproved(ctx context.Context, actorID, deviceID string, approved bool, ip string) error
	DeleteDevice(ctx context.Context, actorID, deviceID, ip string) error
}

// AuditReader exposes the audit trail to the admin console.
type AuditReader interface {
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error)
}

// AdminHandler handles admin console HTTP requests.
type AdminHandler struct {
	service  AdminServiceInterface
	audit    AuditReader
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, audit AuditReader, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		service:  service,
		audit:    audit,
		cookies:  cookies,
		ipConfig: ipConfig,
	}
}

// UserResponse is the admin console view of an account.
type UserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	CompanyName string     `json:"company_name,omitempty"`
	VAT         string     `json:"vat,omitempty"`
	Address     string     `json:"address,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_all_at,omitempty"`
}

// DeviceResponse is the admin console view of an enrolled device.
type DeviceResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	Label       string    `json:"label"`
	Approved    bool      `json:"approved"`
	LastIP      string    `json:"last_ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	LastUsed    time.Time `json:"last_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// SetActiveRequest toggles an account's active flag.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetDeviceApprovedRequest toggles a device's approval.
type SetDeviceApprovedRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		Active:      u.Active,
		CompanyName: u.CompanyName,
		VAT:         u.VAT,
		Address:     u.Address,
		CreatedAt:   u.CreatedAt,
		RevokedAt:   u.RevokedAllAt,
	}
}

func toDeviceResponse(d *models.DeviceFingerprint) DeviceResponse {
	return DeviceResponse{
		ID:          d.ID,
		UserID:      d.UserID,
		Fingerprint: d.Fingerprint,
		Label:       d.Label,
		Approved:    d.Approved,
		LastIP:      d.LastIP,
		UserAgent:   d.UserAgent,
		LastUsed:    d.LastUsed,
		CreatedAt:   d.CreatedAt,
	}
}

// Impersonate handles POST /admin/impersonate/{id}. The response swaps the
// caller's session cookie for a short-lived one carrying the target identity.
func (h *AdminHandler) Impersonate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	targetID := chi.URLParam(r, "id")
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.service.Impersonate(r.Context(), claims.UserID, targetID, ipAddress)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrForbidden):
			pkghttp.WriteForbidden(w, "Cannot impersonate this user")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid impersonation target")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresIn, h.cookies)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Impersonation session started",
		"user":       toUserResponse(result.Target),
		"expires_in": int64(result.ExpiresIn.Seconds()),
	})
}

// ListUsers handles GET /admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list users")
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

// SetUserActive handles PATCH /admin/users/{id}/active
func (h *AdminHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req SetActiveRequest
	if decodeAndValidate(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "id")
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.SetUserActive(r.Context(), claims.UserID, userID, *req.Active, ipAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "User updated"})
}

// RevokeUserSessions handles POST /admin/users/{id}/revoke-sessions
func (h *AdminHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	userID := chi.URLParam(r, "id")
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.RevokeAllSessions(r.Context(), claims.UserID, userID, ipAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "All sessions revoked"})
}

// ListUserDevices handles GET /admin/users/{id}/devices
func (h *AdminHandler) ListUserDevices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	devices, err := h.service.ListDevices(r.Context(), userID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list devices")
		return
	}

	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

// SetDeviceApproved handles PATCH /admin/devices/{id}
func (h *AdminHandler) SetDeviceApproved(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req SetDeviceApprovedRequest
	if decodeAndValidate(w, r, &req) {
		return
	}

	deviceID := chi.URLParam(r, "id")
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.SetDeviceApproved(r.Context(), claims.UserID, deviceID, *req.Approved, ipAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Device updated"})
}

// DeleteDevice handles DELETE /admin/devices/{id}
func (h *AdminHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	deviceID := chi.URLParam(r, "id")
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.service.DeleteDevice(r.Context(), claims.UserID, deviceID, ipAddress); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Device deleted"})
}

// ListAuditLogs handles GET /admin/audit-logs
func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	entries, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

// ListUserAuditLogs handles GET /admin/users/{id}/audit-logs
func (h *AdminHandler) ListUserAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	limit, offset := pagination(r)

	entries, err := h.audit.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": entries})
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// decodeAndValidate reports true when the response has already been written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return true
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return true
	}
	return false
}
