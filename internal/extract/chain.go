package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/breaker"
)

// Config tunes the extraction chain.
type Config struct {
	// StrategyTimeout bounds one strategy invocation (default 45s).
	StrategyTimeout time.Duration
	// AcceptThreshold is the quality score at which the chain stops trying
	// further strategies (default 0.5).
	AcceptThreshold float64
	// BreakerConfig is applied to every per-strategy breaker.
	BreakerConfig breaker.Config
}

func (c Config) withDefaults() Config {
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 45 * time.Second
	}
	if c.AcceptThreshold <= 0 {
		c.AcceptThreshold = 0.5
	}
	return c
}

// Chain runs the strategies in precision order against a fetched snapshot
// body. Each strategy sits behind its own breaker so a systemically broken
// one is skipped instead of retried on every snapshot.
type Chain struct {
	cfg        Config
	fetcher    archive.SnapshotFetcher
	strategies []Strategy
	breakers   map[archive.ExtractionMethod]*breaker.Breaker
	cache      archive.ExtractionCache
	renderer   *MarkdownRenderer
	clock      archive.Clock
	logger     *zap.Logger
}

// DefaultStrategies returns the standard precision-ordered strategy list.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NewReadabilityStrategy(),
		NewDOMStrategy(),
		NewNewsStrategy(),
		NewRawStrategy(),
	}
}

// NewChain builds a Chain. A nil strategies slice gets DefaultStrategies; a
// nil cache disables memoization.
func NewChain(
	fetcher archive.SnapshotFetcher,
	strategies []Strategy,
	cache archive.ExtractionCache,
	clock archive.Clock,
	logger *zap.Logger,
	cfg Config,
) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	cfg = cfg.withDefaults()

	breakers := make(map[archive.ExtractionMethod]*breaker.Breaker, len(strategies))
	for _, s := range strategies {
		bcfg := cfg.BreakerConfig
		bcfg.Logger = logger
		if bcfg.Now == nil {
			bcfg.Now = clock.Now
		}
		breakers[s.Method()] = breaker.New("extract_"+string(s.Method()), bcfg)
	}

	return &Chain{
		cfg:        cfg,
		fetcher:    fetcher,
		strategies: strategies,
		breakers:   breakers,
		cache:      cache,
		renderer:   NewMarkdownRenderer(),
		clock:      clock,
		logger:     logger,
	}
}

// Extract fetches the snapshot body and runs the chain. It returns the first
// result at or above the acceptance threshold, or the best result seen when
// every strategy stays below it. The error is archive.ErrExtractionFailed
// only when no strategy produced any content at all.
func (c *Chain) Extract(ctx context.Context, url string, snapshot time.Time) (archive.ExtractedContent, error) {
	if c.cache != nil {
		if content, ok := c.cache.Get(url, snapshot); ok {
			return content, nil
		}
	}

	body, err := c.fetcher.Fetch(ctx, url, snapshot)
	if err != nil {
		return archive.ExtractedContent{}, fmt.Errorf("fetch snapshot %s: %w", url, err)
	}

	var (
		best    archive.ExtractedContent
		hasBest bool
	)
	for _, strat := range c.strategies {
		res, err := c.runStrategy(ctx, strat, url, body)
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				c.logger.Debug("extraction strategy skipped, breaker open",
					zap.String("method", string(strat.Method())), zap.String("url", url))
				continue
			}
			if ctx.Err() != nil {
				return archive.ExtractedContent{}, ctx.Err()
			}
			c.logger.Debug("extraction strategy failed",
				zap.String("method", string(strat.Method())),
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}

		content := c.build(url, snapshot, strat.Method(), res)
		if content.QualityScore >= c.cfg.AcceptThreshold {
			c.finish(url, snapshot, &content, res.HTML)
			return content, nil
		}
		if !hasBest || content.QualityScore > best.QualityScore {
			best = content
			hasBest = true
		}
	}

	if hasBest {
		c.logger.Info("no strategy met quality threshold, returning best effort",
			zap.String("url", url),
			zap.String("method", string(best.Method)),
			zap.Float64("score", best.QualityScore),
		)
		c.finish(url, snapshot, &best, "")
		return best, nil
	}
	return archive.ExtractedContent{}, fmt.Errorf("%w: %s", archive.ErrExtractionFailed, url)
}

// runStrategy executes one strategy behind its breaker with the per-strategy
// timeout. Empty output counts as failure so it trips the breaker too.
func (c *Chain) runStrategy(ctx context.Context, strat Strategy, url string, body []byte) (Result, error) {
	var res Result
	err := c.breakers[strat.Method()].Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.StrategyTimeout)
		defer cancel()

		var serr error
		res, serr = strat.Extract(callCtx, url, body)
		if serr != nil {
			return serr
		}
		if strings.TrimSpace(res.BodyText) == "" {
			return fmt.Errorf("strategy %s produced empty text", strat.Method())
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Chain) build(url string, snapshot time.Time, method archive.ExtractionMethod, res Result) archive.ExtractedContent {
	lang, confidence := detectLanguage(res.BodyText)
	return archive.ExtractedContent{
		SourceURL:    url,
		SnapshotTime: snapshot,
		Title:        res.Title,
		BodyText:     res.BodyText,
		WordCount:    len(strings.Fields(res.BodyText)),
		Language:     lang,
		Method:       method,
		QualityScore: scoreQuality(res, confidence),
	}
}

// finish renders markdown when content HTML survived and stores the result
// in the cache.
func (c *Chain) finish(url string, snapshot time.Time, content *archive.ExtractedContent, html string) {
	if html != "" {
		md, err := c.renderer.Render(html)
		if err != nil {
			c.logger.Warn("markdown render failed", zap.String("url", url), zap.Error(err))
		} else {
			content.Markdown = md
		}
	}
	if c.cache != nil {
		c.cache.Put(url, snapshot, *content)
	}
}

// BreakerStatus exposes one strategy breaker's snapshot for the ops API.
func (c *Chain) BreakerStatus(method archive.ExtractionMethod) (breaker.Status, bool) {
	br, ok := c.breakers[method]
	if !ok {
		return breaker.Status{}, false
	}
	return br.GetStatus(), true
}
