package headless

import (
	"context"
	"fmt"
	"time"
)

// Noop is the headless fetcher used when browser rendering is disabled. It
// fails every fetch so promotion degrades to the plain HTTP result.
type Noop struct{}

// Fetch always fails.
func (Noop) Fetch(context.Context, string, time.Time) ([]byte, error) {
	return nil, fmt.Errorf("headless fetching is disabled")
}
