// Package router composes the archive source clients, their circuit breakers,
// and the fallback policy into a single resumable, filtered record stream.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/breaker"
	"github.com/snapradar/archive-crawler/internal/filter"
)

// Config tunes router-level fallback behavior. The per-source breaker
// settings come from BreakerConfig applied to every source.
type Config struct {
	// FallbackRetries is how many times retry_then_fallback re-attempts the
	// primary before switching (default 3).
	FallbackRetries int
	// FallbackDelay is the base delay between fallback retries (default 2s).
	FallbackDelay time.Duration
	// FallbackBackoffMultiplier grows the delay when > 1 (default 1, fixed).
	FallbackBackoffMultiplier float64
	// FallbackMaxDelay caps the grown delay (default 30s).
	FallbackMaxDelay time.Duration
	// MetricsRingSize bounds the rolling outcome window (default 1000).
	MetricsRingSize int

	BreakerConfig breaker.Config
}

func (c Config) withDefaults() Config {
	if c.FallbackRetries <= 0 {
		c.FallbackRetries = 3
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = 2 * time.Second
	}
	if c.FallbackBackoffMultiplier < 1 {
		c.FallbackBackoffMultiplier = 1
	}
	if c.FallbackMaxDelay <= 0 {
		c.FallbackMaxDelay = 30 * time.Second
	}
	return c
}

// errResumePersist marks a failed write-ahead cursor save, which must end the
// stream instead of triggering source fallback.
var errResumePersist = errors.New("resume state persist failed")

// Router owns one breaker per source and routes page fetches according to the
// job's source mode and fallback strategy. Page fetching per source is
// sequential; in hybrid mode the two sources are never queried concurrently.
type Router struct {
	cfg      Config
	clients  map[archive.Source]archive.SourceClient
	breakers map[archive.Source]*breaker.Breaker
	resume   archive.ResumeStore
	metrics  *Metrics
	clock    archive.Clock
	logger   *zap.Logger
}

// New builds a Router over the given clients.
func New(
	clients []archive.SourceClient,
	resume archive.ResumeStore,
	clock archive.Clock,
	logger *zap.Logger,
	cfg Config,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	cm := make(map[archive.Source]archive.SourceClient, len(clients))
	bm := make(map[archive.Source]*breaker.Breaker, len(clients))
	for _, c := range clients {
		cm[c.Source()] = c
		bcfg := cfg.BreakerConfig
		bcfg.Logger = logger
		if bcfg.Now == nil {
			bcfg.Now = clock.Now
		}
		bm[c.Source()] = breaker.New(string(c.Source()), bcfg)
	}
	return &Router{
		cfg:      cfg,
		clients:  cm,
		breakers: bm,
		resume:   resume,
		metrics:  NewMetrics(cfg.MetricsRingSize, clock),
		clock:    clock,
		logger:   logger,
	}
}

// Stream is a lazy sequence of filter decisions. Consumers range over
// Decisions; once the channel closes, Err reports why the stream ended early,
// or nil on clean exhaustion.
type Stream struct {
	decisions chan archive.FilterDecision

	mu  sync.Mutex
	err error
}

// Decisions returns the decision channel.
func (s *Stream) Decisions() <-chan archive.FilterDecision {
	return s.decisions
}

// Err returns the terminal error, if any. Valid after Decisions closes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// QueryArchive starts the paginated, filtered discovery stream for one job.
// Every page is persisted to the resume store before its decisions are
// yielded, so a restart continues from the first unflushed page.
func (r *Router) QueryArchive(ctx context.Context, job archive.CrawlJob, filt *filter.Filter) *Stream {
	s := &Stream{decisions: make(chan archive.FilterDecision)}
	go r.run(ctx, job, filt, s)
	return s
}

func (r *Router) run(ctx context.Context, job archive.CrawlJob, filt *filter.Filter, s *Stream) {
	defer close(s.decisions)

	order := job.Config.Ordered()
	for i, src := range order {
		canFallback := i+1 < len(order) && job.Config.FallbackEnabled
		err := r.drainSource(ctx, job, src, canFallback, filt, s)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}
		if errors.Is(err, errResumePersist) {
			// A cursor that cannot be persisted must not silently switch
			// sources; surface it so the job can degrade.
			s.setErr(err)
			return
		}
		if !canFallback {
			s.setErr(fmt.Errorf("%w: %v", archive.ErrAllSourcesExhausted, err))
			return
		}
		r.logger.Warn("archive source failed, falling back",
			zap.String("job_id", job.ID),
			zap.String("from", string(src)),
			zap.String("to", string(order[i+1])),
			zap.Error(err),
		)
	}
}

// drainSource pages through one source until exhaustion, the max-page cap, or
// an unrecoverable failure. canFallback selects how hard to fight for this
// source before giving up per the job's fallback strategy.
func (r *Router) drainSource(
	ctx context.Context,
	job archive.CrawlJob,
	src archive.Source,
	canFallback bool,
	filt *filter.Filter,
	s *Stream,
) error {
	client, ok := r.clients[src]
	if !ok {
		return fmt.Errorf("no client registered for source %q", src)
	}
	ov := job.Config.Sources[src]

	state, err := r.loadState(ctx, job.DomainID, src)
	if err != nil {
		return err
	}
	if state.Status == archive.ResumeCompleted {
		r.logger.Info("source already completed for domain",
			zap.String("job_id", job.ID), zap.String("source", string(src)))
		return nil
	}

	pageIdx := state.LastPageIndex
	resumeKey := state.ResumeKey

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ov.MaxPages > 0 && pageIdx >= ov.MaxPages {
			r.logger.Info("max page cap reached",
				zap.String("job_id", job.ID),
				zap.String("source", string(src)),
				zap.Int("pages", pageIdx),
			)
			return nil
		}

		page, err := r.fetchPage(ctx, client, ov, archive.PageRequest{
			Domain:    job.Domain,
			From:      job.From,
			To:        job.To,
			ResumeKey: resumeKey,
			PageIndex: pageIdx,
			PageSize:  ov.PageSize,
		}, job, canFallback)
		if err != nil {
			state.Status = archive.ResumeFailed
			state.UpdatedAt = r.clock.Now()
			if serr := r.resume.Save(ctx, state); serr != nil {
				r.logger.Error("resume state save failed", zap.String("job_id", job.ID), zap.Error(serr))
			}
			return err
		}

		pageIdx++
		state.LastPageIndex = pageIdx
		state.ResumeKey = page.NextKey
		state.RecordsSeen += int64(len(page.Records))
		state.Status = archive.ResumeInProgress
		if !page.HasMore() {
			state.Status = archive.ResumeCompleted
		}
		state.UpdatedAt = r.clock.Now()
		// Write-ahead: the cursor is durable before any record is yielded.
		if err := r.resume.Save(ctx, state); err != nil {
			return fmt.Errorf("%w: %v", errResumePersist, err)
		}

		for _, d := range filt.EvaluateAll(page.Records) {
			select {
			case s.decisions <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if !page.HasMore() {
			return nil
		}
		resumeKey = page.NextKey
	}
}

// fetchPage runs one breaker-guarded page fetch, applying the job's fallback
// strategy when the source keeps failing.
func (r *Router) fetchPage(
	ctx context.Context,
	client archive.SourceClient,
	ov archive.SourceOverrides,
	req archive.PageRequest,
	job archive.CrawlJob,
	canFallback bool,
) (archive.Page, error) {
	br := r.breakers[client.Source()]
	delay := r.cfg.FallbackDelay

	for attempt := 0; ; attempt++ {
		page, err := r.attemptFetch(ctx, client, br, ov, req)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return archive.Page{}, err
		}
		if !canFallback {
			return archive.Page{}, err
		}

		switch job.Config.FallbackStrategy {
		case archive.FallbackImmediate:
			// Hand over to the secondary with no delay.
			return archive.Page{}, err
		case archive.FallbackRetryThenFallback:
			if attempt+1 >= r.cfg.FallbackRetries {
				return archive.Page{}, err
			}
		case archive.FallbackCircuitBreaker:
			if br.State() == breaker.StateOpen || errors.Is(err, breaker.ErrOpen) {
				// Breaker verdict is final; skip straight to the secondary.
				return archive.Page{}, fmt.Errorf("%w: %v", archive.ErrSourceUnavailable, err)
			}
		default:
			return archive.Page{}, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return archive.Page{}, ctx.Err()
		}
		if r.cfg.FallbackBackoffMultiplier > 1 {
			delay = time.Duration(float64(delay) * r.cfg.FallbackBackoffMultiplier)
			if delay > r.cfg.FallbackMaxDelay {
				delay = r.cfg.FallbackMaxDelay
			}
		}
	}
}

// attemptFetch performs exactly one breaker-guarded call with the per-source
// hard timeout and records the outcome in the rolling metrics.
func (r *Router) attemptFetch(
	ctx context.Context,
	client archive.SourceClient,
	br *breaker.Breaker,
	ov archive.SourceOverrides,
	req archive.PageRequest,
) (archive.Page, error) {
	var page archive.Page
	start := r.clock.Now()
	err := br.Execute(ctx, func(ctx context.Context) error {
		callCtx := ctx
		if ov.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, ov.Timeout)
			defer cancel()
		}
		var ferr error
		page, ferr = client.FetchPage(callCtx, req)
		return ferr
	})
	latency := r.clock.Now().Sub(start)
	if !errors.Is(err, breaker.ErrOpen) {
		// Fail-fast rejections never reached the network; keep them out of
		// the latency statistics.
		r.metrics.Record(client.Source(), err == nil, latency)
	}
	if err != nil {
		return archive.Page{}, err
	}
	return page, nil
}

func (r *Router) loadState(ctx context.Context, domainID string, src archive.Source) (archive.ResumeState, error) {
	state, err := r.resume.Load(ctx, domainID, src)
	if err != nil && !errors.Is(err, archive.ErrNotFound) {
		return archive.ResumeState{}, fmt.Errorf("load resume state: %w", err)
	}
	if state == nil {
		return archive.ResumeState{
			DomainID: domainID,
			Source:   src,
			Status:   archive.ResumePending,
		}, nil
	}
	return *state, nil
}

// HealthStatus reports per-source availability for the ops API.
func (r *Router) HealthStatus() []archive.SourceHealth {
	out := make([]archive.SourceHealth, 0, len(r.breakers))
	for src, br := range r.breakers {
		st := br.GetStatus()
		out = append(out, archive.SourceHealth{
			Source:        src,
			Healthy:       st.State == breaker.StateClosed,
			CircuitState:  string(st.State),
			LastSuccessAt: r.metrics.LastSuccessAt(src),
		})
	}
	return out
}

// PerformanceMetrics reports rolling per-source query statistics.
func (r *Router) PerformanceMetrics() []archive.SourcePerformance {
	out := make([]archive.SourcePerformance, 0, len(r.clients))
	for src := range r.clients {
		out = append(out, r.metrics.Performance(src))
	}
	return out
}

// ResetBreaker force-closes one source's breaker. Admin use only.
func (r *Router) ResetBreaker(src archive.Source) bool {
	br, ok := r.breakers[src]
	if !ok {
		return false
	}
	br.Reset()
	return true
}

// BreakerStatus exposes one source's breaker snapshot.
func (r *Router) BreakerStatus(src archive.Source) (breaker.Status, bool) {
	br, ok := r.breakers[src]
	if !ok {
		return breaker.Status{}, false
	}
	return br.GetStatus(), true
}
