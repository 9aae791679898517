package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

const newsletterColumns = `
	publication_id, name, short_id, canonical_domain, custom_domain,
	description, logo_url, last_sync_at, posts_imported, post_frequency_days,
	oldest_post_date, force_resync, is_dormant,
	recommended_newsletters, recommended_users, created_at, updated_at`

// NewsletterRepository persists newsletter records.
type NewsletterRepository struct {
	db     *sqlx.DB
	logger logger.Logger
}

// NewNewsletterRepository creates a newsletter repository.
func NewNewsletterRepository(db *sqlx.DB, log logger.Logger) *NewsletterRepository {
	return &NewsletterRepository{db: db, logger: log}
}

// Create inserts a newsletter record. A record with the same short id is left
// untouched and domain.ErrAlreadyExists is returned, so re-delivered creation
// jobs are no-ops.
func (r *NewsletterRepository) Create(ctx context.Context, n *domain.Newsletter) error {
	query := `
		INSERT INTO newsletters (` + newsletterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (short_id) DO NOTHING`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		n.PublicationID, n.Name, n.ShortID, n.CanonicalDomain, n.CustomDomain,
		n.Description, n.LogoURL, n.LastSyncAt, n.PostsImported, n.PostFrequencyDays,
		n.OldestPostDate, n.ForceResync, n.IsDormant,
		n.RecommendedNewsletters, n.RecommendedUsers, now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: insert newsletter %s: %v", domain.ErrPersistence, n.ShortID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", domain.ErrPersistence, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: newsletter %s", domain.ErrAlreadyExists, n.ShortID)
	}

	r.logger.Info("newsletter record created", logger.String("short_id", n.ShortID))
	return nil
}

// Get fetches one newsletter by short id.
func (r *NewsletterRepository) Get(ctx context.Context, shortID string) (*domain.Newsletter, error) {
	query := `SELECT ` + newsletterColumns + ` FROM newsletters WHERE short_id = $1`

	var n domain.Newsletter
	if err := r.db.GetContext(ctx, &n, query, shortID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: newsletter %s", domain.ErrNotFound, shortID)
		}
		return nil, fmt.Errorf("%w: get newsletter %s: %v", domain.ErrPersistence, shortID, err)
	}
	return &n, nil
}

// UpdateSyncState records the outcome of an import: the new watermark, the
// running post count, and the blended posting frequency.
func (r *NewsletterRepository) UpdateSyncState(ctx context.Context, shortID string, lastSyncAt time.Time, postsImported int, postFrequencyDays *float64) error {
	query := `
		UPDATE newsletters
		SET last_sync_at = $2, posts_imported = $3, post_frequency_days = $4, updated_at = $5
		WHERE short_id = $1`

	return r.execExpectingRow(ctx, shortID, query,
		shortID, lastSyncAt, postsImported, postFrequencyDays, time.Now().UTC())
}

// UpdateGraph stores the recommendation set discovered for a newsletter.
func (r *NewsletterRepository) UpdateGraph(ctx context.Context, shortID string, newsletters domain.RecommendedNewsletterList, users domain.RecommendedUserList) error {
	query := `
		UPDATE newsletters
		SET recommended_newsletters = $2, recommended_users = $3, updated_at = $4
		WHERE short_id = $1`

	return r.execExpectingRow(ctx, shortID, query,
		shortID, newsletters, users, time.Now().UTC())
}

// AdvanceBackfill raises the imported-post count by delta and moves the
// oldest-post watermark backward. LEAST keeps an already-older watermark in
// place when a backfill batch is re-delivered.
func (r *NewsletterRepository) AdvanceBackfill(ctx context.Context, shortID string, delta int, oldestPostDate time.Time) error {
	query := `
		UPDATE newsletters
		SET posts_imported = posts_imported + $2,
		    oldest_post_date = LEAST(COALESCE(oldest_post_date, $3), $3),
		    updated_at = $4
		WHERE short_id = $1`

	return r.execExpectingRow(ctx, shortID, query,
		shortID, delta, oldestPostDate, time.Now().UTC())
}

// SetDormant flips a newsletter's dormant flag.
func (r *NewsletterRepository) SetDormant(ctx context.Context, shortID string, dormant bool) error {
	query := `UPDATE newsletters SET is_dormant = $2, updated_at = $3 WHERE short_id = $1`

	return r.execExpectingRow(ctx, shortID, query, shortID, dormant, time.Now().UTC())
}

// Delete removes a newsletter record. Deleting an absent record is not an
// error: compensation must be able to re-run.
func (r *NewsletterRepository) Delete(ctx context.Context, shortID string) error {
	query := `DELETE FROM newsletters WHERE short_id = $1`

	if _, err := r.db.ExecContext(ctx, query, shortID); err != nil {
		return fmt.Errorf("%w: delete newsletter %s: %v", domain.ErrPersistence, shortID, err)
	}
	return nil
}

// ListDueForResync selects active newsletters whose next expected post is
// overdue at now, or that carry the force flag. The force flag is cleared on
// selection so it fires exactly once.
func (r *NewsletterRepository) ListDueForResync(ctx context.Context, now time.Time) ([]domain.Newsletter, error) {
	query := `
		UPDATE newsletters
		SET force_resync = FALSE, updated_at = $1
		WHERE is_dormant = FALSE
		  AND (force_resync
		       OR (post_frequency_days IS NOT NULL
		           AND last_sync_at + post_frequency_days * INTERVAL '1 day' < $1))
		RETURNING ` + newsletterColumns

	var due []domain.Newsletter
	if err := r.db.SelectContext(ctx, &due, query, now.UTC()); err != nil {
		return nil, fmt.Errorf("%w: list due for resync: %v", domain.ErrPersistence, err)
	}
	return due, nil
}

// ListAll returns every newsletter record ordered by short id.
func (r *NewsletterRepository) ListAll(ctx context.Context) ([]domain.Newsletter, error) {
	query := `SELECT ` + newsletterColumns + ` FROM newsletters ORDER BY short_id`

	var all []domain.Newsletter
	if err := r.db.SelectContext(ctx, &all, query); err != nil {
		return nil, fmt.Errorf("%w: list newsletters: %v", domain.ErrPersistence, err)
	}
	return all, nil
}

func (r *NewsletterRepository) execExpectingRow(ctx context.Context, shortID, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update newsletter %s: %v", domain.ErrPersistence, shortID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", domain.ErrPersistence, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: newsletter %s", domain.ErrNotFound, shortID)
	}
	return nil
}
