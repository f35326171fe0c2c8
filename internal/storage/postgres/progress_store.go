package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapradar/archive-crawler/internal/progress"
)

// EventRecord is one persisted progress event, shaped for API responses.
type EventRecord struct {
	JobID      string    `json:"job_id"`
	TS         time.Time `json:"ts"`
	Stage      string    `json:"stage"`
	Source     string    `json:"source,omitempty"`
	URL        string    `json:"url,omitempty"`
	PageIndex  int       `json:"page_index,omitempty"`
	Records    int64     `json:"records,omitempty"`
	Method     string    `json:"method,omitempty"`
	Quality    float64   `json:"quality,omitempty"`
	Words      int64     `json:"words,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// ProgressStore persists progress event batches in Postgres so job history
// survives restarts and is queryable from the ops API.
type ProgressStore struct {
	pool pgxIface
}

// NewProgressStore connects a pool and returns the store.
func NewProgressStore(ctx context.Context, dsn string) (*ProgressStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewProgressStoreWithPool(pool pgxIface) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append persists one batch of events.
func (s *ProgressStore) Append(ctx context.Context, batch []progress.Event) error {
	query := `
INSERT INTO progress_events (
	job_id, ts, stage, source, url, page_index, records, method,
	quality, words, duration_ms, note
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`
	for _, evt := range batch {
		_, err := s.pool.Exec(ctx, query,
			evt.JobUUID(), evt.TS, string(evt.Stage), evt.Source, evt.URL,
			evt.PageIndex, evt.Records, evt.Method,
			evt.Quality, evt.Words, evt.Dur.Milliseconds(), evt.Note,
		)
		if err != nil {
			return fmt.Errorf("insert progress event: %w", err)
		}
	}
	return nil
}

// ListEvents returns persisted events for one job, newest first.
func (s *ProgressStore) ListEvents(ctx context.Context, jobID string, limit, offset int) ([]EventRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `
SELECT job_id, ts, stage, source, url, page_index, records, method,
       quality, words, duration_ms, note
FROM progress_events
WHERE job_id = $1
ORDER BY ts DESC
LIMIT $2 OFFSET $3;`
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(
			&rec.JobID, &rec.TS, &rec.Stage, &rec.Source, &rec.URL,
			&rec.PageIndex, &rec.Records, &rec.Method,
			&rec.Quality, &rec.Words, &rec.DurationMs, &rec.Note,
		); err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress events: %w", err)
	}
	return out, nil
}
