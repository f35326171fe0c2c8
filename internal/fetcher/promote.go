package fetcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Detector decides whether a plain HTTP body needs a headless render.
type Detector interface {
	ShouldPromote(body []byte) bool
}

// Promoting fetches over plain HTTP first and escalates to the headless
// fetcher when the detector flags a JavaScript shell. A failed headless
// render falls back to whatever the plain fetch returned.
type Promoting struct {
	primary  archive.SnapshotFetcher
	headless archive.SnapshotFetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting composes the promotion policy. A nil headless fetcher or nil
// detector disables promotion.
func NewPromoting(primary, headless archive.SnapshotFetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		primary:  primary,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch retrieves one snapshot body.
func (p *Promoting) Fetch(ctx context.Context, pageURL string, snapshot time.Time) ([]byte, error) {
	body, err := p.primary.Fetch(ctx, pageURL, snapshot)
	if err != nil {
		return nil, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(body) {
		return body, nil
	}

	rendered, herr := p.headless.Fetch(ctx, pageURL, snapshot)
	if herr != nil {
		p.logger.Warn("headless render failed, using plain fetch",
			zap.String("url", pageURL), zap.Error(herr))
		return body, nil
	}
	p.logger.Debug("snapshot promoted to headless render", zap.String("url", pageURL))
	return rendered, nil
}
