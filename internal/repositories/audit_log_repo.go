package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seditalia/accessi/internal/database"
	"github.com/seditalia/accessi/internal/models"
)

// AuditLogRepository handles audit trail persistence
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditColumns = `id, user_id, action, ip_address, device_id, details, created_at`

func scanAuditRow(scanner rowScanner) (*models.AuditLog, error) {
	var entry models.AuditLog
	var detailsJSON []byte

	err := scanner.Scan(
		&entry.ID, &entry.UserID, &entry.Action, &entry.IPAddress,
		&entry.DeviceID, &detailsJSON, &entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
	}

	return &entry, nil
}

func scanAuditRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)

	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, nil
}

func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, ip_address, device_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		uuid.New().String(), entry.UserID, entry.Action, entry.IPAddress,
		entry.DeviceID, detailsJSON, time.Now(),
	)

	return database.MapPostgresError(err)
}

func (r *AuditLogRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditRows(rows)
}

func (r *AuditLogRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditRows(rows)
}

// CleanupOlderThan removes audit entries past the retention window
func (r *AuditLogRepository) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	query := `DELETE FROM audit_logs WHERE created_at < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1`

	result, err := r.pool.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
