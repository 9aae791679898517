package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

// FailureRepository persists the append-only failure log.
type FailureRepository struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewFailureRepository creates a failure-log repository.
func NewFailureRepository(db *sqlx.DB, log logger.Logger) *FailureRepository {
	return &FailureRepository{db: db, logger: log}
}

// Record appends one failure-log entry.
func (r *FailureRepository) Record(ctx context.Context, entry domain.FailureLogEntry) error {
	query := `
		INSERT INTO failure_log (operation, payload, error, priority, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		entry.Operation, entry.Payload, entry.Error, entry.Priority, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: record failure for %s: %v", domain.ErrPersistence, entry.Operation, err)
	}

	r.logger.Warn("failure recorded",
		logger.String("operation", entry.Operation),
		logger.Int("priority", entry.Priority))
	return nil
}

// ListByPriority returns up to limit entries ordered by triage priority, then
// recency.
func (r *FailureRepository) ListByPriority(ctx context.Context, limit int) ([]domain.FailureLogEntry, error) {
	query := `
		SELECT id, operation, payload, error, priority, created_at
		FROM failure_log
		ORDER BY priority ASC, created_at DESC
		LIMIT $1`

	var entries []domain.FailureLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("%w: list failures: %v", domain.ErrPersistence, err)
	}
	return entries, nil
}
