package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// ResumeStore persists pagination cursors in Postgres, keyed by
// (domain_id, source). Save is an upsert; the router serializes writes per
// key so last-writer-wins races do not arise.
type ResumeStore struct {
	pool pgxIface
}

// NewResumeStore connects a pool and returns the store.
func NewResumeStore(ctx context.Context, dsn string) (*ResumeStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResumeStore{pool: pool}, nil
}

// NewResumeStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewResumeStoreWithPool(pool pgxIface) (*ResumeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResumeStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ResumeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load returns the saved cursor or archive.ErrNotFound.
func (s *ResumeStore) Load(ctx context.Context, domainID string, source archive.Source) (*archive.ResumeState, error) {
	query := `
SELECT domain_id, source, last_page_index, resume_key, records_seen, status, updated_at
FROM resume_states
WHERE domain_id = $1 AND source = $2;`
	var (
		state     archive.ResumeState
		src       string
		status    string
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, domainID, string(source)).Scan(
		&state.DomainID, &src, &state.LastPageIndex, &state.ResumeKey,
		&state.RecordsSeen, &status, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, archive.ErrNotFound
		}
		return nil, fmt.Errorf("load resume state: %w", err)
	}
	state.Source = archive.Source(src)
	state.Status = archive.ResumeStatus(status)
	state.UpdatedAt = updatedAt
	return &state, nil
}

// Save upserts the cursor.
func (s *ResumeStore) Save(ctx context.Context, state archive.ResumeState) error {
	query := `
INSERT INTO resume_states (
	domain_id, source, last_page_index, resume_key, records_seen, status, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (domain_id, source) DO UPDATE
SET last_page_index = EXCLUDED.last_page_index,
    resume_key = EXCLUDED.resume_key,
    records_seen = EXCLUDED.records_seen,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at;`
	_, err := s.pool.Exec(ctx, query,
		state.DomainID, string(state.Source), state.LastPageIndex, state.ResumeKey,
		state.RecordsSeen, string(state.Status), state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save resume state: %w", err)
	}
	return nil
}
