package source

import "context"

// Limiter throttles outbound index API calls per host. A nil Limiter on a
// client config disables throttling.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}
