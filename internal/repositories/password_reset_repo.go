package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seditalia/accessi/internal/database"
	"github.com/seditalia/accessi/internal/models"
)

type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

const resetColumns = `id, user_id, token, expires_at, used_at, created_at`

func scanResetRow(scanner rowScanner) (*models.PasswordReset, error) {
	var reset models.PasswordReset
	var usedAt *time.Time

	err := scanner.Scan(
		&reset.ID, &reset.UserID, &reset.Token,
		&reset.ExpiresAt, &usedAt, &reset.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	reset.UsedAt = usedAt
	return &reset, nil
}

func (r *PasswordResetRepository) Create(ctx context.Context, reset *models.PasswordReset) (*models.PasswordReset, error) {
	reset.ID = uuid.New().String()
	reset.CreatedAt = time.Now()

	query := `
		INSERT INTO password_resets (id, user_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + resetColumns

	return scanResetRow(r.pool.QueryRow(ctx, query,
		reset.ID, reset.UserID, reset.Token, reset.ExpiresAt, reset.CreatedAt,
	))
}

func (r *PasswordResetRepository) GetByToken(ctx context.Context, token string) (*models.PasswordReset, error) {
	query := `SELECT ` + resetColumns + ` FROM password_resets WHERE token = $1`

	return scanResetRow(r.pool.QueryRow(ctx, query, token))
}

func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id string) error {
	query := `UPDATE password_resets SET used_at = $1 WHERE id = $2 AND used_at IS NULL`

	result, err := r.pool.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CleanupExpired removes reset tokens past their expiry (call periodically)
func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM password_resets WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
