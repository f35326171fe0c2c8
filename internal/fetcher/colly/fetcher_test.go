package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetcher_FetchesReplayBody(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("<html><body>archived</body></html>"))
	}))
	defer srv.Close()

	f, err := New(Config{ReplayBaseURL: srv.URL, RandomDelay: time.Millisecond})
	require.NoError(t, err)

	snap := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	body, err := f.Fetch(context.Background(), "https://example.org/report", snap)
	require.NoError(t, err)
	require.Contains(t, string(body), "archived")
	require.Contains(t, gotPath, "/web/20240115103000id_/")
	require.Contains(t, gotPath, "example.org/report")
}

func TestFetcher_ReplayMiss(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not in archive", http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(Config{ReplayBaseURL: srv.URL, RandomDelay: time.Millisecond})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "https://example.org/missing", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestFetcher_ContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f, err := New(Config{ReplayBaseURL: srv.URL, RandomDelay: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, "https://example.org/slow", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
