package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seditalia/accessi/internal/auth"
	"github.com/seditalia/accessi/internal/background"
	"github.com/seditalia/accessi/internal/config"
	"github.com/seditalia/accessi/internal/database"
	"github.com/seditalia/accessi/internal/handlers"
	middlewareCustom "github.com/seditalia/accessi/internal/middleware"
	"github.com/seditalia/accessi/internal/models"
	"github.com/seditalia/accessi/internal/repositories"
	"github.com/seditalia/accessi/internal/routes"
	"github.com/seditalia/accessi/internal/services"
	pkgauth "github.com/seditalia/accessi/pkg/auth"
	pkghttp "github.com/seditalia/accessi/pkg/http"
	pkglogger "github.com/seditalia/accessi/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("device_trust_mode", cfg.Auth.DeviceTrustMode))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	deviceRepo := repositories.NewDeviceRepository(db)
	otpRepo := repositories.NewOTPRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Token manager and session verification
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.SessionExpiry,
		cfg.Auth.ImpersonationExpiry,
	)
	verifier := auth.NewSessionVerifier(tokenManager, revokeRepo, userRepo)

	// Email delivery: SES when a region is configured, log output otherwise.
	var emailService services.EmailService
	if cfg.Email.AWSRegion != "" {
		emailService, err = services.NewAWSSESEmailService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Server.BaseURL,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("AWS_REGION not set, emails will be written to the log")
		emailService = services.NewLogEmailService(cfg.Server.BaseURL, logger)
	}

	// Services
	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), logger)
	authService := services.NewAuthService(userRepo, deviceRepo, otpRepo, revokeRepo, tokenManager, auditService, logger, &cfg.Auth)
	adminService := services.NewAdminService(userRepo, deviceRepo, tokenManager, emailService, auditService, logger)
	resetService := services.NewPasswordResetService(userRepo, resetRepo, emailService, auditService, logger, cfg.Auth.ResetTokenExpiry)

	// Handlers
	cookies := auth.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}}
	authHandler := handlers.NewAuthHandler(authService, resetService, cookies, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, auditService, cookies, ipConfig)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, adminHandler, verifier, userRepo, cfg.Auth.CookieName)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Background cleanup of expired rows
	cleanupManager := background.NewCleanupManager(map[string]background.ExpiredCleaner{
		"revoked_tokens":  revokeRepo,
		"otp_challenges":  otpRepo,
		"password_resets": resetRepo,
		"audit_logs": background.RetentionCleaner{
			RetentionDays: cfg.Auth.AuditRetentionDays,
			Purge:         auditRepo.CleanupOlderThan,
		},
	}, logger, cfg.Auth.CleanupInterval)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin account if ADMIN_EMAIL and
// ADMIN_PASSWORD are set. Without at least one active admin nobody can
// approve accounts or devices.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByIdentifier(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Username:     adminEmail,
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Role:         "admin",
		Active:       true,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
