package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/progress"
)

func TestProgressStore_AppendInsertsEachEvent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	jobID := uuid.New()
	now := time.Unix(1_700_000_000, 0).UTC()
	batch := []progress.Event{
		{
			JobID: progress.UUIDToBytes(jobID),
			TS:    now,
			Stage: progress.StageJobStart,
		},
		{
			JobID:   progress.UUIDToBytes(jobID),
			TS:      now.Add(time.Second),
			Stage:   progress.StageRecordOK,
			URL:     "https://example.gov/news/a",
			Method:  "readability",
			Quality: 0.87,
			Words:   412,
			Dur:     1500 * time.Millisecond,
		},
	}

	mock.ExpectExec("INSERT INTO progress_events").
		WithArgs(jobID, now, "JOB_START", "", "", 0, int64(0), "",
			float64(0), int64(0), int64(0), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO progress_events").
		WithArgs(jobID, now.Add(time.Second), "RECORD_EXTRACTED", "", "https://example.gov/news/a",
			0, int64(0), "readability", 0.87, int64(412), int64(1500), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStore_AppendSurfacesInsertError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO progress_events").
		WillReturnError(errors.New("connection reset"))

	err = store.Append(context.Background(), []progress.Event{{
		JobID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: progress.StageJobStart,
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert progress event")
}

func TestProgressStore_ListEvents(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProgressStoreWithPool(mock)
	require.NoError(t, err)

	jobID := uuid.NewString()
	now := time.Unix(1_700_000_000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"job_id", "ts", "stage", "source", "url", "page_index", "records",
		"method", "quality", "words", "duration_ms", "note",
	}).
		AddRow(jobID, now.Add(time.Minute), "JOB_DONE", "", "", 0, int64(0), "", float64(0), int64(0), int64(61000), "").
		AddRow(jobID, now, "JOB_START", "", "", 0, int64(0), "", float64(0), int64(0), int64(0), "")

	mock.ExpectQuery("SELECT job_id, ts, stage").
		WithArgs(jobID, 100, 0).
		WillReturnRows(rows)

	events, err := store.ListEvents(context.Background(), jobID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "JOB_DONE", events[0].Stage)
	require.Equal(t, int64(61000), events[0].DurationMs)
	require.Equal(t, "JOB_START", events[1].Stage)
}
