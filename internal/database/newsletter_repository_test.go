package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/database"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

func newMockRepo(t *testing.T) (*database.NewsletterRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return database.NewNewsletterRepository(sqlxDB, logger.NewNopLogger()), mock
}

func TestNewsletterRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	n := &domain.Newsletter{
		PublicationID:   "42",
		Name:            "Tech Letters",
		ShortID:         "techletters",
		CanonicalDomain: "https://techletters.substack.com",
		LastSyncAt:      time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		PostsImported:   10,
	}

	mock.ExpectExec("INSERT INTO newsletters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(ctx, n))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewsletterRepository_Create_ExistingRecordIsLeftUntouched(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	// ON CONFLICT DO NOTHING reports zero rows affected.
	mock.ExpectExec("INSERT INTO newsletters").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(ctx, &domain.Newsletter{ShortID: "techletters"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestNewsletterRepository_Get(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	columns := []string{
		"publication_id", "name", "short_id", "canonical_domain", "custom_domain",
		"description", "logo_url", "last_sync_at", "posts_imported", "post_frequency_days",
		"oldest_post_date", "force_resync", "is_dormant",
		"recommended_newsletters", "recommended_users", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(columns).AddRow(
		"42", "Tech Letters", "techletters", "https://techletters.substack.com", nil,
		"desc", "logo", now, 10, 2.5,
		nil, false, false,
		[]byte(`[{"publication_id":"7","name":"A","short_id":"a"}]`), []byte(`[]`), now, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM newsletters WHERE short_id").
		WithArgs("techletters").
		WillReturnRows(rows)

	n, err := repo.Get(ctx, "techletters")
	require.NoError(t, err)
	assert.Equal(t, "Tech Letters", n.Name)
	assert.Equal(t, 10, n.PostsImported)
	require.NotNil(t, n.PostFrequencyDays)
	assert.InDelta(t, 2.5, *n.PostFrequencyDays, 1e-9)
	require.Len(t, n.RecommendedNewsletters, 1)
	assert.Equal(t, "a", n.RecommendedNewsletters[0].ShortID)
}

func TestNewsletterRepository_Get_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM newsletters WHERE short_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewsletterRepository_UpdateSyncState(t *testing.T) {
	repo, mock := newMockRepo(t)

	freq := 3.25
	mock.ExpectExec("UPDATE newsletters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSyncState(context.Background(), "techletters",
		time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC), 14, &freq)
	require.NoError(t, err)
}

func TestNewsletterRepository_UpdateSyncState_MissingRecord(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE newsletters").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSyncState(context.Background(), "missing", time.Now(), 1, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewsletterRepository_Delete_AbsentRecordIsNoError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM newsletters").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Delete(context.Background(), "gone"))
}

func TestNewsletterRepository_ListDueForResync(t *testing.T) {
	repo, mock := newMockRepo(t)

	columns := []string{
		"publication_id", "name", "short_id", "canonical_domain", "custom_domain",
		"description", "logo_url", "last_sync_at", "posts_imported", "post_frequency_days",
		"oldest_post_date", "force_resync", "is_dormant",
		"recommended_newsletters", "recommended_users", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(columns).AddRow(
		"42", "Tech Letters", "techletters", "https://techletters.substack.com", nil,
		"", "", now.AddDate(0, 0, -7), 10, 2.0,
		nil, false, false, []byte(`[]`), []byte(`[]`), now, now,
	)

	mock.ExpectQuery("UPDATE newsletters").
		WillReturnRows(rows)

	due, err := repo.ListDueForResync(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "techletters", due[0].ShortID)
}
