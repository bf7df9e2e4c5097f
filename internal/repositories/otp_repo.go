package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seditalia/accessi/internal/database"
	"github.com/seditalia/accessi/internal/models"
)

// OTPRepository persists one-time verification challenges.
type OTPRepository struct {
	pool *pgxpool.Pool
}

func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

const otpColumns = `id, user_id, fingerprint, code, attempts, expires_at, created_at`

func scanOTPRow(scanner rowScanner) (*models.OTPChallenge, error) {
	var challenge models.OTPChallenge

	err := scanner.Scan(
		&challenge.ID, &challenge.UserID, &challenge.Fingerprint,
		&challenge.Code, &challenge.Attempts, &challenge.ExpiresAt, &challenge.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &challenge, nil
}

// Create stores a new challenge, superseding any outstanding challenges for
// the same user first.
func (r *OTPRepository) Create(ctx context.Context, challenge *models.OTPChallenge) (*models.OTPChallenge, error) {
	if _, err := r.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE user_id = $1`, challenge.UserID); err != nil {
		return nil, database.MapPostgresError(err)
	}

	challenge.ID = uuid.New().String()
	challenge.CreatedAt = time.Now()

	query := `
		INSERT INTO otp_challenges (id, user_id, fingerprint, code, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + otpColumns

	return scanOTPRow(r.pool.QueryRow(ctx, query,
		challenge.ID, challenge.UserID, challenge.Fingerprint,
		challenge.Code, challenge.Attempts, challenge.ExpiresAt, challenge.CreatedAt,
	))
}

func (r *OTPRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*models.OTPChallenge, error) {
	query := `SELECT ` + otpColumns + ` FROM otp_challenges WHERE user_id = $1 AND fingerprint = $2`

	return scanOTPRow(r.pool.QueryRow(ctx, query, userID, fingerprint))
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `UPDATE otp_challenges SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`

	var attempts int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return attempts, nil
}

func (r *OTPRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM otp_challenges WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// CleanupExpired removes challenges past their expiry (call periodically)
func (r *OTPRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM otp_challenges WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
