package commoncrawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/archive"
)

func ndjsonLines(n int, startDigest int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b,
			`{"url":"https://example.org/item-%d","timestamp":"20240110%06d","digest":"SHA-%d","mime":"text/html","status":"200","length":"%d"}`+"\n",
			i, i, startDigest+i, 4000+i)
	}
	return b.String()
}

func TestClient_FetchPage_PaginatesByPageNumber(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "0":
			_, _ = w.Write([]byte(ndjsonLines(3, 0)))
		case "1":
			_, _ = w.Write([]byte(ndjsonLines(1, 100)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)

	first, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org", PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Records, 3)
	require.True(t, first.HasMore())
	require.Equal(t, "1", first.NextKey)
	require.Equal(t, archive.SourceCommonCrawl, first.Records[0].Source)

	second, err := c.FetchPage(context.Background(), archive.PageRequest{
		Domain:    "example.org",
		PageSize:  3,
		ResumeKey: first.NextKey,
		PageIndex: 1,
	})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	require.False(t, second.HasMore())
}

func TestClient_FetchPage_NotFoundEndsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.False(t, page.HasMore())
}

func TestClient_FetchPage_WildcardQuery(t *testing.T) {
	t.Parallel()

	var gotURL atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL.Store(r.URL.Query().Get("url"))
		_, _ = w.Write([]byte(ndjsonLines(1, 0)))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	_, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Equal(t, "example.org/*", gotURL.Load())
}

func TestClient_FetchPage_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(ndjsonLines(2, 0)))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.EqualValues(t, 2, calls.Load())
}

func TestClient_FetchPage_BadResumeKey(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://127.0.0.1:0"}, nil)
	_, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org", ResumeKey: "nonsense"})
	require.Error(t, err)
}

func TestClient_FetchPage_SkipsUnparseableLines(t *testing.T) {
	t.Parallel()

	body := ndjsonLines(1, 0) + "{not json}\n" + ndjsonLines(1, 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org", PageSize: 100})
	require.NoError(t, err)
	require.Len(t, page.Records, 3)
	require.Empty(t, page.Records[1].URL) // malformed line becomes an empty record
}
