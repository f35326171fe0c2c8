package archive

import "errors"

// Sentinel errors shared across the pipeline. Callers compare with errors.Is.
var (
	// ErrSourceUnavailable is returned when a source's circuit breaker is
	// open and the call was rejected without being attempted.
	ErrSourceUnavailable = errors.New("archive source unavailable")

	// ErrAllSourcesExhausted signals that every configured source failed or
	// was unavailable for the current page.
	ErrAllSourcesExhausted = errors.New("all archive sources exhausted")

	// ErrExtractionFailed signals that every extraction strategy raised and
	// none produced even partial content.
	ErrExtractionFailed = errors.New("all extraction strategies failed")

	// ErrNotFound is returned by stores when the requested row is absent.
	ErrNotFound = errors.New("not found")
)
