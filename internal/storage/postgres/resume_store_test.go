package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/archive"
)

func TestResumeStore_SaveUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResumeStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	state := archive.ResumeState{
		DomainID:      "dom-1",
		Source:        archive.SourceWayback,
		LastPageIndex: 3,
		ResumeKey:     "cursor-3",
		RecordsSeen:   15000,
		Status:        archive.ResumeInProgress,
		UpdatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO resume_states").
		WithArgs("dom-1", "wayback", 3, "cursor-3", int64(15000), "in_progress", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), state))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeStore_LoadMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResumeStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT domain_id, source, last_page_index").
		WithArgs("dom-1", "commoncrawl").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Load(context.Background(), "dom-1", archive.SourceCommonCrawl)
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestResumeStore_LoadRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResumeStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"domain_id", "source", "last_page_index", "resume_key", "records_seen", "status", "updated_at",
	}).AddRow("dom-1", "wayback", 7, "cursor-7", int64(35000), "in_progress", now)

	mock.ExpectQuery("SELECT domain_id, source, last_page_index").
		WithArgs("dom-1", "wayback").
		WillReturnRows(rows)

	state, err := store.Load(context.Background(), "dom-1", archive.SourceWayback)
	require.NoError(t, err)
	require.Equal(t, 7, state.LastPageIndex)
	require.Equal(t, "cursor-7", state.ResumeKey)
	require.Equal(t, archive.ResumeInProgress, state.Status)
}
