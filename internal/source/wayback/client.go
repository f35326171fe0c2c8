// Package wayback implements the SourceClient for the Wayback Machine CDX
// index API.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/source"
)

const (
	defaultBaseURL  = "https://web.archive.org/cdx/search/cdx"
	defaultPageSize = 5000
	maxPageSize     = 5000
	defaultTimeout  = 120 * time.Second
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

// Client queries the CDX API one page at a time. The provider collapses by
// url key and filters to status 200 server-side, so downstream sees one
// record per distinct URL.
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
	return archive.SourceWayback
}

// FetchPage fetches one CDX page for the domain and range. The page size is
// capped at the provider's limit.
func (c *Client) FetchPage(ctx context.Context, req archive.PageRequest) (archive.Page, error) {
	size := req.PageSize
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}

	q := url.Values{}
	q.Set("url", req.Domain)
	q.Set("matchType", "domain")
	q.Set("output", "json")
	q.Set("collapse", "urlkey")
	q.Set("filter", "statuscode:200")
	q.Set("limit", strconv.Itoa(size))
	q.Set("showResumeKey", "true")
	if !req.From.IsZero() {
		q.Set("from", req.From.Format(dateLayout))
	}
	if !req.To.IsZero() {
		q.Set("to", req.To.Format(dateLayout))
	}
	if req.ResumeKey != "" {
		q.Set("resumeKey", req.ResumeKey)
	}

	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, c.host); err != nil {
			return archive.Page{}, fmt.Errorf("wayback throttle: %w", err)
		}
	}

	var body []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		body, fetchErr = c.get(ctx, c.cfg.BaseURL+"?"+q.Encode())
		return fetchErr
	})
	if err != nil {
		return archive.Page{}, fmt.Errorf("wayback fetch page %d: %w", req.PageIndex, err)
	}

	records, nextKey, err := parseCDX(body)
	if err != nil {
		return archive.Page{}, fmt.Errorf("wayback parse page %d: %w", req.PageIndex, err)
	}
	c.logger.Debug("fetched cdx page",
		zap.String("domain", req.Domain),
		zap.Int("page", req.PageIndex),
		zap.Int("records", len(records)),
		zap.Bool("has_more", nextKey != ""),
	)
	return archive.Page{
		Records:   records,
		NextKey:   nextKey,
		PageIndex: req.PageIndex,
		Source:    archive.SourceWayback,
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

// parseCDX decodes the CDX JSON-array format: a header row, then data rows.
// When showResumeKey is set and more pages exist, an empty row followed by a
// single-element resume key row ends the response.
func parseCDX(body []byte) ([]archive.CDXRecord, string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "[]" {
		return nil, "", nil
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, "", fmt.Errorf("decode cdx json: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", nil
	}

	cols := headerIndex(rows[0])
	rows = rows[1:]

	resumeKey := ""
	if n := len(rows); n >= 2 && len(rows[n-2]) == 0 && len(rows[n-1]) == 1 {
		resumeKey = rows[n-1][0]
		rows = rows[:n-2]
	}

	records := make([]archive.CDXRecord, 0, len(rows))
	for _, row := range rows {
		rec, ok := rowToRecord(cols, row)
		if !ok {
			// Malformed rows are passed through for the filter to count.
			records = append(records, archive.CDXRecord{Source: archive.SourceWayback})
			continue
		}
		records = append(records, rec)
	}
	return records, resumeKey, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	return cols
}

func rowToRecord(cols map[string]int, row []string) (archive.CDXRecord, bool) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	ts, err := time.Parse(timestampLayout, field("timestamp"))
	if err != nil {
		return archive.CDXRecord{}, false
	}
	status, _ := strconv.Atoi(field("statuscode"))
	length, _ := strconv.ParseInt(field("length"), 10, 64)

	rec := archive.CDXRecord{
		URL:           field("original"),
		Timestamp:     ts,
		Digest:        field("digest"),
		MimeType:      field("mimetype"),
		StatusCode:    status,
		ContentLength: length,
		Source:        archive.SourceWayback,
	}
	if rec.URL == "" {
		return archive.CDXRecord{}, false
	}
	return rec, true
}
