package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seditalia/accessi/internal/database"
	"github.com/seditalia/accessi/internal/models"
)

// DeviceRepository persists device fingerprint records. The table enforces
// uniqueness on (user_id, fingerprint); concurrent first logins from the
// same device race on the insert and the loser re-reads the winner's row.
type DeviceRepository struct {
	pool *pgxpool.Pool
}

func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{pool: db.Pool}
}

const deviceColumns = `id, user_id, fingerprint, label, approved, last_ip, user_agent, last_used, created_at`

func scanDeviceRow(scanner rowScanner) (*models.DeviceFingerprint, error) {
	var device models.DeviceFingerprint
	var label, lastIP, userAgent *string

	err := scanner.Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &label,
		&device.Approved, &lastIP, &userAgent, &device.LastUsed, &device.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if label != nil {
		device.Label = *label
	}
	if lastIP != nil {
		device.LastIP = *lastIP
	}
	if userAgent != nil {
		device.UserAgent = *userAgent
	}

	return &device, nil
}

func scanDeviceRows(rows pgx.Rows) ([]*models.DeviceFingerprint, error) {
	defer rows.Close()

	devices := make([]*models.DeviceFingerprint, 0)

	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}

	return devices, nil
}

func (r *DeviceRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_fingerprints WHERE user_id = $1 AND fingerprint = $2`

	return scanDeviceRow(r.pool.QueryRow(ctx, query, userID, fingerprint))
}

func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_fingerprints WHERE id = $1`

	return scanDeviceRow(r.pool.QueryRow(ctx, query, id))
}

// Create enrolls a new device. A unique-constraint violation means another
// request enrolled it first; the existing row is returned instead of an
// error.
func (r *DeviceRepository) Create(ctx context.Context, device *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	device.ID = uuid.New().String()
	now := time.Now()
	device.LastUsed = now
	device.CreatedAt = now

	query := `
		INSERT INTO user_fingerprints (id, user_id, fingerprint, label, approved, last_ip, user_agent, last_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + deviceColumns

	created, err := scanDeviceRow(r.pool.QueryRow(ctx, query,
		device.ID, device.UserID, device.Fingerprint, nullable(device.Label),
		device.Approved, nullable(device.LastIP), nullable(device.UserAgent),
		device.LastUsed, device.CreatedAt,
	))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return r.GetByUserAndFingerprint(ctx, device.UserID, device.Fingerprint)
		}
		return nil, err
	}

	return created, nil
}

// UpsertApproved inserts or replaces a device record as approved, used when
// a one-time code authorizes the device.
func (r *DeviceRepository) UpsertApproved(ctx context.Context, userID, fingerprint, label, ip, userAgent string) (*models.DeviceFingerprint, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO user_fingerprints (id, user_id, fingerprint, label, approved, last_ip, user_agent, last_used, created_at)
		VALUES ($1, $2, $3, $4, true, $5, $6, $7, $7)
		ON CONFLICT (user_id, fingerprint) DO UPDATE
		SET approved = true, label = EXCLUDED.label, last_ip = EXCLUDED.last_ip,
		    user_agent = EXCLUDED.user_agent, last_used = EXCLUDED.last_used
		RETURNING ` + deviceColumns

	return scanDeviceRow(r.pool.QueryRow(ctx, query,
		id, userID, fingerprint, nullable(label), nullable(ip), nullable(userAgent), now,
	))
}

// Touch refreshes the last-seen metadata on a known device.
func (r *DeviceRepository) Touch(ctx context.Context, id, ip, userAgent string) error {
	query := `UPDATE user_fingerprints SET last_used = $1, last_ip = $2, user_agent = $3 WHERE id = $4`

	result, err := r.pool.Exec(ctx, query, time.Now(), nullable(ip), nullable(userAgent), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetApproved flips the approval flag, refreshing last-seen fields when
// approving during a live login.
func (r *DeviceRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	query := `UPDATE user_fingerprints SET approved = $1, last_used = $2 WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, approved, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + ` FROM user_fingerprints WHERE user_id = $1 ORDER BY last_used DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}

	return scanDeviceRows(rows)
}

// CountByUser reports how many devices a user has ever enrolled; zero makes
// the next device the user's first, which self-service trust auto-approves.
func (r *DeviceRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM user_fingerprints WHERE user_id = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// RevokeAllForUser resets every device approval for a user, forcing full
// re-approval on next login. Paired with a sessions revoke-all.
func (r *DeviceRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `UPDATE user_fingerprints SET approved = false WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM user_fingerprints WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
