package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Hasher produces a content digest used to name stored blobs.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Storing wraps a fetcher and archives every fetched body to a blob store,
// so extraction can be re-run later without refetching from the archive.
// Blob failures are logged, never surfaced: losing a raw copy must not fail
// the fetch.
type Storing struct {
	inner  archive.SnapshotFetcher
	blobs  archive.BlobStore
	hasher Hasher
	prefix string
	logger *zap.Logger
}

// NewStoring composes the blob-archiving decorator.
func NewStoring(inner archive.SnapshotFetcher, blobs archive.BlobStore, hasher Hasher, prefix string, logger *zap.Logger) *Storing {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storing{
		inner:  inner,
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Fetch retrieves the snapshot body and stores a raw copy.
func (s *Storing) Fetch(ctx context.Context, pageURL string, snapshot time.Time) ([]byte, error) {
	body, err := s.inner.Fetch(ctx, pageURL, snapshot)
	if err != nil {
		return nil, err
	}
	s.store(ctx, pageURL, snapshot, body)
	return body, nil
}

func (s *Storing) store(ctx context.Context, pageURL string, snapshot time.Time, body []byte) {
	digest, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("hash snapshot body failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	path := s.blobPath(pageURL, snapshot, digest)
	if _, err := s.blobs.PutObject(ctx, path, "text/html; charset=utf-8", body); err != nil {
		s.logger.Warn("store raw snapshot failed",
			zap.String("url", pageURL),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (s *Storing) blobPath(pageURL string, snapshot time.Time, digest string) string {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	path := fmt.Sprintf("%s/%s/%s.html", host, snapshot.UTC().Format("20060102150405"), digest)
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}
