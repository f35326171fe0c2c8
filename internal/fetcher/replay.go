// Package fetcher provides snapshot body retrieval: replay URL construction
// and the promotion policy that escalates plain HTTP fetches to a headless
// browser when the page needs JavaScript to render.
package fetcher

import (
	"fmt"
	"strings"
	"time"
)

// DefaultReplayBaseURL is the Wayback Machine replay endpoint.
const DefaultReplayBaseURL = "https://web.archive.org"

const replayTimeLayout = "20060102150405"

// ReplayURL builds the archived-body URL for one snapshot. The id_ modifier
// asks the replay server for the original bytes without its injected toolbar
// and rewriting. A zero snapshot time returns the live URL unchanged.
func ReplayURL(baseURL, pageURL string, snapshot time.Time) string {
	if snapshot.IsZero() {
		return pageURL
	}
	if baseURL == "" {
		baseURL = DefaultReplayBaseURL
	}
	return fmt.Sprintf("%s/web/%sid_/%s",
		strings.TrimRight(baseURL, "/"),
		snapshot.UTC().Format(replayTimeLayout),
		pageURL,
	)
}
