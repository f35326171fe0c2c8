package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body []byte
	err  error
}

func (s *stubFetcher) Fetch(context.Context, string, time.Time) ([]byte, error) {
	return s.body, s.err
}

type stubDetector struct{ promote bool }

func (d stubDetector) ShouldPromote([]byte) bool { return d.promote }

var snap = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPromoting_PlainBodyWhenNotPromoted(t *testing.T) {
	t.Parallel()

	p := NewPromoting(&stubFetcher{body: []byte("plain")}, &stubFetcher{body: []byte("rendered")}, stubDetector{promote: false}, nil)
	body, err := p.Fetch(context.Background(), "https://example.org/a", snap)
	require.NoError(t, err)
	require.Equal(t, "plain", string(body))
}

func TestPromoting_HeadlessWhenDetected(t *testing.T) {
	t.Parallel()

	p := NewPromoting(&stubFetcher{body: []byte(`<div id="root">`)}, &stubFetcher{body: []byte("rendered")}, stubDetector{promote: true}, nil)
	body, err := p.Fetch(context.Background(), "https://example.org/a", snap)
	require.NoError(t, err)
	require.Equal(t, "rendered", string(body))
}

func TestPromoting_FallsBackOnHeadlessFailure(t *testing.T) {
	t.Parallel()

	p := NewPromoting(&stubFetcher{body: []byte("plain")}, &stubFetcher{err: errors.New("no browser")}, stubDetector{promote: true}, nil)
	body, err := p.Fetch(context.Background(), "https://example.org/a", snap)
	require.NoError(t, err)
	require.Equal(t, "plain", string(body))
}

func TestPromoting_PrimaryFailureSurfaces(t *testing.T) {
	t.Parallel()

	p := NewPromoting(&stubFetcher{err: errors.New("replay 404")}, &stubFetcher{body: []byte("rendered")}, stubDetector{promote: true}, nil)
	_, err := p.Fetch(context.Background(), "https://example.org/a", snap)
	require.Error(t, err)
}

func TestReplayURL(t *testing.T) {
	t.Parallel()

	got := ReplayURL("", "https://example.org/report", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	require.Equal(t, "https://web.archive.org/web/20240115103000id_/https://example.org/report", got)

	// Zero snapshot means live fetch.
	require.Equal(t, "https://example.org/a", ReplayURL("", "https://example.org/a", time.Time{}))
}
