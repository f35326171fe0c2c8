package wayback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/source"
)

const cdxPage = `[
["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["org,example)/news/one","20240115083000","https://example.org/news/one","text/html","200","AAA111","8192"],
["org,example)/news/two","20240116090000","https://example.org/news/two","text/html","200","BBB222","15000"],
[],
["org%2Cexample%29%2Fnews%2Ftwo+20240116090000"]
]`

const cdxLastPage = `[
["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["org,example)/news/three","20240117090000","https://example.org/news/three","text/html","200","CCC333","9000"]
]`

func TestClient_FetchPage(t *testing.T) {
	t.Parallel()

	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query())
		_, _ = w.Write([]byte(cdxPage))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{
		Domain:   "example.org",
		From:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		PageSize: 100,
	})
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	require.Equal(t, "https://example.org/news/one", page.Records[0].URL)
	require.Equal(t, "AAA111", page.Records[0].Digest)
	require.Equal(t, int64(8192), page.Records[0].ContentLength)
	require.Equal(t, 200, page.Records[0].StatusCode)
	require.Equal(t, archive.SourceWayback, page.Records[0].Source)
	require.Equal(t, time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC), page.Records[0].Timestamp)
	require.True(t, page.HasMore())

	q := gotQuery.Load().(url.Values)
	require.Equal(t, "example.org", q.Get("url"))
	require.Equal(t, "domain", q.Get("matchType"))
	require.Equal(t, "urlkey", q.Get("collapse"))
	require.Equal(t, "statuscode:200", q.Get("filter"))
	require.Equal(t, "20240101", q.Get("from"))
	require.Equal(t, "20240131", q.Get("to"))
	require.Equal(t, "100", q.Get("limit"))
}

func TestClient_FetchPage_LastPageHasNoResumeKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(cdxLastPage))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.False(t, page.HasMore())
}

func TestClient_FetchPage_EmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.False(t, page.HasMore())
}

func TestClient_FetchPage_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(cdxLastPage))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestClient_FetchPage_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	_, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.Error(t, err)

	var statusErr *source.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_FetchPage_MalformedRowsPassedThrough(t *testing.T) {
	t.Parallel()

	const pageWithBadRow = `[
["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
["org,example)/ok","20240115083000","https://example.org/ok","text/html","200","DDD444","8192"],
["org,example)/bad","not-a-timestamp","https://example.org/bad","text/html","200","EEE555","8192"]
]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pageWithBadRow))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	page, err := c.FetchPage(context.Background(), archive.PageRequest{Domain: "example.org"})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	// The bad row becomes an empty record for the filter to count as malformed.
	require.Empty(t, page.Records[1].URL)
}
