// Package commoncrawl implements the SourceClient for the Common Crawl
// index API.
package commoncrawl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/source"
)

const (
	defaultBaseURL = "https://index.commoncrawl.org/CC-MAIN-2024-33-index"
	// Common Crawl result sets are effectively unbounded and the index
	// shards respond slowly under load, hence the longer default timeout.
	defaultTimeout  = 180 * time.Second
	defaultPageSize = 2000
	timestampLayout = "20060102150405"
	dateLayout      = "20060102"
)

// Config tunes the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	Limiter    source.Limiter
}

// Client pages through the Common Crawl index. The provider already emits
// content-hash-deduped records, so no collapse parameter is needed.
type Client struct {
	cfg    Config
	host   string
	http   *http.Client
	retry  *source.RetryPolicy
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host := ""
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		host = u.Host
	}
	return &Client{
		cfg:    cfg,
		host:   host,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  source.NewRetryPolicy(cfg.MaxRetries),
		logger: logger,
	}
}

// Source identifies this client.
func (c *Client) Source() archive.Source {
	return archive.SourceCommonCrawl
}

// indexLine is one NDJSON row from the index API.
type indexLine struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Digest    string `json:"digest"`
	Mime      string `json:"mime"`
	Status    string `json:"status"`
	Length    string `json:"length"`
}

// FetchPage fetches one index page. Pagination is by page number; the resume
// key carries the next page as a decimal string. An empty page ends the
// stream.
func (c *Client) FetchPage(ctx context.Context, req archive.PageRequest) (archive.Page, error) {
	size := req.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	page := 0
	if req.ResumeKey != "" {
		parsed, err := strconv.Atoi(req.ResumeKey)
		if err != nil {
			return archive.Page{}, fmt.Errorf("commoncrawl: bad resume key %q: %w", req.ResumeKey, err)
		}
		page = parsed
	}

	q := url.Values{}
	q.Set("url", req.Domain+"/*")
	q.Set("output", "json")
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(size))
	if !req.From.IsZero() {
		q.Set("from", req.From.Format(dateLayout))
	}
	if !req.To.IsZero() {
		q.Set("to", req.To.Format(dateLayout))
	}

	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, c.host); err != nil {
			return archive.Page{}, fmt.Errorf("commoncrawl throttle: %w", err)
		}
	}

	var body []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		body, fetchErr = c.get(ctx, c.cfg.BaseURL+"?"+q.Encode())
		return fetchErr
	})
	if err != nil {
		return archive.Page{}, fmt.Errorf("commoncrawl fetch page %d: %w", page, err)
	}

	records := parseLines(body)
	nextKey := ""
	if len(records) >= size {
		nextKey = strconv.Itoa(page + 1)
	}
	c.logger.Debug("fetched index page",
		zap.String("domain", req.Domain),
		zap.Int("page", page),
		zap.Int("records", len(records)),
		zap.Bool("has_more", nextKey != ""),
	)
	return archive.Page{
		Records:   records,
		NextKey:   nextKey,
		PageIndex: req.PageIndex,
		Source:    archive.SourceCommonCrawl,
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The index answers 404 for a page past the end of the result set.
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, source.NewStatusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func parseLines(body []byte) []archive.CDXRecord {
	var records []archive.CDXRecord
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row indexLine
		if err := json.Unmarshal(line, &row); err != nil {
			records = append(records, archive.CDXRecord{Source: archive.SourceCommonCrawl})
			continue
		}
		records = append(records, rowToRecord(row))
	}
	return records
}

func rowToRecord(row indexLine) archive.CDXRecord {
	ts, err := time.Parse(timestampLayout, row.Timestamp)
	if err != nil {
		return archive.CDXRecord{Source: archive.SourceCommonCrawl}
	}
	status, _ := strconv.Atoi(row.Status)
	length, _ := strconv.ParseInt(row.Length, 10, 64)
	return archive.CDXRecord{
		URL:           row.URL,
		Timestamp:     ts,
		Digest:        row.Digest,
		MimeType:      row.Mime,
		StatusCode:    status,
		ContentLength: length,
		Source:        archive.SourceCommonCrawl,
	}
}
