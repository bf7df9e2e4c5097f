package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredCleaner deletes rows that have outlived their purpose and reports
// how many went away.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RetentionCleaner adapts an age-based purge to the ExpiredCleaner
// interface, for tables whose rows carry no expiry of their own.
type RetentionCleaner struct {
	RetentionDays int
	Purge         func(ctx context.Context, retentionDays int) (int64, error)
}

func (r RetentionCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	return r.Purge(ctx, r.RetentionDays)
}

// CleanupManager periodically prunes expired revocations, verification
// challenges and reset tokens. Nothing correctness-critical depends on it:
// every read path checks expiry itself, this just keeps the tables small.
type CleanupManager struct {
	cleaners map[string]ExpiredCleaner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager over the named cleaners.
func NewCleanupManager(cleaners map[string]ExpiredCleaner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		cleaners: cleaners,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for name, cleaner := range cm.cleaners {
		deleted, err := cleaner.CleanupExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("cleanup failed",
				slog.String("target", name),
				slog.Any("error", err))
			continue
		}
		if deleted > 0 {
			cm.logger.Info("cleanup completed",
				slog.String("target", name),
				slog.Int64("rows_deleted", deleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
