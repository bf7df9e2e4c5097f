package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/handlers"
	"github.com/seditalia/accessi/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	verifier *auth.SessionVerifier,
	users auth.UserFetcher,
	cookieName string,
) {
	loginLimit := middleware.DefaultLoginRateLimit()
	resetLimit := middleware.DefaultResetRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/verify-otp", authHandler.VerifyOTP)
	router.With(middleware.RateLimitByIP(resetLimit)).Post("/auth/forgot-password", authHandler.ForgotPassword)
	router.With(middleware.RateLimitByIP(resetLimit)).Post("/auth/reset-password", authHandler.ResetPassword)
	router.Post("/auth/register", authHandler.Register)

	// Logout works with or without a valid session; it only needs the cookie.
	router.Post("/auth/logout", authHandler.Logout)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, cookieName))

		r.Get("/auth/session", authHandler.Session)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(users))

			r.Post("/admin/impersonate/{id}", adminHandler.Impersonate)

			r.Get("/admin/users", adminHandler.ListUsers)
			r.Patch("/admin/users/{id}/active", adminHandler.SetUserActive)
			r.Post("/admin/users/{id}/revoke-sessions", adminHandler.RevokeUserSessions)
			r.Get("/admin/users/{id}/devices", adminHandler.ListUserDevices)
			r.Get("/admin/users/{id}/audit-logs", adminHandler.ListUserAuditLogs)

			r.Patch("/admin/devices/{id}", adminHandler.SetDeviceApproved)
			r.Delete("/admin/devices/{id}", adminHandler.DeleteDevice)

			r.Get("/admin/audit-logs", adminHandler.ListAuditLogs)
		})
	})
}
