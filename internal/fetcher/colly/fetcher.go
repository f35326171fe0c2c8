// Package collyfetcher retrieves archived snapshot bodies over plain HTTP
// using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/snapradar/archive-crawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	// ReplayBaseURL is the archive replay endpoint
	// (default https://web.archive.org).
	ReplayBaseURL string
	UserAgent     string
	Timeout       time.Duration
	// RandomDelay spaces requests to the replay server (default 500ms).
	RandomDelay time.Duration
	// MaxBodySize caps the response body in bytes (default 10MB).
	MaxBodySize int
}

// Fetcher implements archive.SnapshotFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RandomDelay <= 0 {
		cfg.RandomDelay = 500 * time.Millisecond
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.MaxBodySize(cfg.MaxBodySize),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch retrieves one snapshot body from the replay endpoint.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, snapshot time.Time) ([]byte, error) {
	target := fetcher.ReplayURL(f.cfg.ReplayBaseURL, pageURL, snapshot)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.buildCollector(&body, &status, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("replay returned status %d for %s", status, target)
	}
	return body, nil
}

func (f *Fetcher) buildCollector(body *[]byte, status *int, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
		*status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("snapshot fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
