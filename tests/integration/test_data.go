package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/seditalia/accessi/internal/models"
	pkgauth "github.com/seditalia/accessi/pkg/auth"
)

// TestCredentials generates unique test user credentials
func TestCredentials(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}

// SeedUser inserts a user through the repository layer
func SeedUser(ctx context.Context, repos *Repos, email, password, role string, active bool) (*models.User, error) {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       active,
		CompanyName:  "Test SRL",
		VAT:          "IT00000000000",
		Address:      "Via di Prova 1, Milano",
	}
	return repos.Users.Create(ctx, user)
}

// SeedApprovedDevice enrolls an approved device for a user
func SeedApprovedDevice(ctx context.Context, repos *Repos, userID, fingerprint string) (*models.DeviceFingerprint, error) {
	return repos.Devices.Create(ctx, &models.DeviceFingerprint{
		UserID:      userID,
		Fingerprint: fingerprint,
		Label:       "Seeded Device",
		Approved:    true,
	})
}

// SeedPendingDevice enrolls an unapproved device for a user
func SeedPendingDevice(ctx context.Context, repos *Repos, userID, fingerprint string) (*models.DeviceFingerprint, error) {
	return repos.Devices.Create(ctx, &models.DeviceFingerprint{
		UserID:      userID,
		Fingerprint: fingerprint,
		Label:       "Seeded Device",
		Approved:    false,
	})
}
