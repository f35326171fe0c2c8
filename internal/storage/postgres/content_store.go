// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// pgxIface is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// ContentStoreConfig controls the connection pool.
type ContentStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ContentStore persists extracted content and job metadata in Postgres.
type ContentStore struct {
	pool pgxIface
}

// NewContentStore connects a pool and returns the store.
func NewContentStore(ctx context.Context, cfg ContentStoreConfig) (*ContentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ContentStore{pool: pool}, nil
}

// NewContentStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewContentStoreWithPool(pool pgxIface) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ContentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Persist upserts one extracted document keyed by (url, snapshot).
func (s *ContentStore) Persist(ctx context.Context, jobID string, content archive.ExtractedContent) error {
	if content.SourceURL == "" {
		return fmt.Errorf("source url is required")
	}
	query := `
INSERT INTO extracted_contents (
	job_id, source_url, snapshot_ts, title, body_text, markdown,
	word_count, language, extraction_method, quality_score, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (source_url, snapshot_ts) DO UPDATE
SET title = EXCLUDED.title,
    body_text = EXCLUDED.body_text,
    markdown = EXCLUDED.markdown,
    word_count = EXCLUDED.word_count,
    language = EXCLUDED.language,
    extraction_method = EXCLUDED.extraction_method,
    quality_score = EXCLUDED.quality_score;`
	_, err := s.pool.Exec(ctx, query,
		jobID,
		content.SourceURL,
		content.SnapshotTime,
		content.Title,
		content.BodyText,
		content.Markdown,
		content.WordCount,
		content.Language,
		string(content.Method),
		content.QualityScore,
	)
	if err != nil {
		return fmt.Errorf("insert extracted content: %w", err)
	}
	return nil
}

// Exists reports whether content for (url, snapshot) is already stored.
func (s *ContentStore) Exists(ctx context.Context, url string, snapshot time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM extracted_contents WHERE source_url = $1 AND snapshot_ts = $2);`,
		url, snapshot,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check content exists: %w", err)
	}
	return exists, nil
}

// CreateJob inserts the job row.
func (s *ContentStore) CreateJob(ctx context.Context, job archive.CrawlJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	query := `
INSERT INTO crawl_jobs (
	id, domain_id, domain, date_from, date_to, config, status, submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.DomainID, job.Domain, job.From, job.To, cfg, string(job.Status), job.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert crawl job: %w", err)
	}
	return nil
}

// UpdateJobStatus updates status, error text, and counters for a job.
func (s *ContentStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status archive.JobStatus,
	errText string,
	counters archive.JobCounters,
) error {
	query := `
UPDATE crawl_jobs
SET status = $1,
    error_text = $2,
    discovered = $3,
    filtered = $4,
    extracted = $5,
    failed = $6,
    started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
    finished_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN now() ELSE finished_at END
WHERE id = $7;`
	tag, err := s.pool.Exec(ctx, query,
		string(status), errText,
		counters.Discovered, counters.Filtered, counters.Extracted, counters.Failed,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// GetJob retrieves one job row.
func (s *ContentStore) GetJob(ctx context.Context, jobID string) (archive.CrawlJob, error) {
	query := `
SELECT id, domain_id, domain, date_from, date_to, config, status, error_text,
       submitted_at, started_at, finished_at, discovered, filtered, extracted, failed
FROM crawl_jobs
WHERE id = $1;`
	var (
		job     archive.CrawlJob
		cfgJSON []byte
		status  string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.DomainID, &job.Domain, &job.From, &job.To, &cfgJSON, &status, &job.ErrorText,
		&job.Submitted, &job.Started, &job.Finished,
		&job.Counters.Discovered, &job.Counters.Filtered, &job.Counters.Extracted, &job.Counters.Failed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return archive.CrawlJob{}, archive.ErrNotFound
		}
		return archive.CrawlJob{}, fmt.Errorf("get crawl job: %w", err)
	}
	job.Status = archive.JobStatus(status)
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &job.Config); err != nil {
			return archive.CrawlJob{}, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	return job, nil
}
