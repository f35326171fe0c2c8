package archive

import (
	"fmt"
	"time"
)

// SourceMode selects which archive indexes a job queries.
type SourceMode string

// Recognized source modes.
const (
	ModeWaybackOnly     SourceMode = "wayback_only"
	ModeCommonCrawlOnly SourceMode = "commoncrawl_only"
	ModeHybrid          SourceMode = "hybrid"
)

// FallbackStrategy controls how hybrid mode reacts to a primary failure.
type FallbackStrategy string

// Recognized fallback strategies.
const (
	FallbackImmediate         FallbackStrategy = "immediate"
	FallbackRetryThenFallback FallbackStrategy = "retry_then_fallback"
	FallbackCircuitBreaker    FallbackStrategy = "circuit_breaker"
)

// SourceOverrides tunes one source within a job. Zero values mean "use the
// configured default".
type SourceOverrides struct {
	Timeout            time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
	MaxRetries         int           `json:"max_retries,omitempty" mapstructure:"max_retries"`
	PageSize           int           `json:"page_size,omitempty" mapstructure:"page_size"`
	MaxPages           int           `json:"max_pages,omitempty" mapstructure:"max_pages"`
	IncludeAttachments bool          `json:"include_attachments,omitempty" mapstructure:"include_attachments"`
	Priority           int           `json:"priority,omitempty" mapstructure:"priority"`
}

// JobConfig captures every per-job knob a client may set. Defaults are merged
// once by ApplyDefaults at job construction; the struct is not mutated after
// that.
type JobConfig struct {
	Mode             SourceMode                 `json:"source" mapstructure:"source"`
	FallbackEnabled  bool                       `json:"fallback_enabled" mapstructure:"fallback_enabled"`
	FallbackStrategy FallbackStrategy           `json:"fallback_strategy" mapstructure:"fallback_strategy"`
	Sources          map[Source]SourceOverrides `json:"sources,omitempty" mapstructure:"sources"`
	ConcurrencyLimit int                        `json:"concurrency_limit" mapstructure:"concurrency_limit"`
	BatchSize        int                        `json:"batch_size" mapstructure:"batch_size"`
}

// Default job tuning applied when the client leaves a knob unset.
const (
	DefaultConcurrencyLimit = 16
	DefaultBatchSize        = 50
	DefaultWaybackPageSize  = 5000
	DefaultCCPageSize       = 2000
	DefaultWaybackTimeout   = 120 * time.Second
	DefaultCCTimeout        = 180 * time.Second
	DefaultMaxRetries       = 3
)

// ApplyDefaults returns a copy with every unset knob filled in.
func (c JobConfig) ApplyDefaults() JobConfig {
	if c.Mode == "" {
		c.Mode = ModeHybrid
	}
	if c.FallbackStrategy == "" {
		c.FallbackStrategy = FallbackCircuitBreaker
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	merged := map[Source]SourceOverrides{
		SourceWayback:     defaultOverrides(SourceWayback),
		SourceCommonCrawl: defaultOverrides(SourceCommonCrawl),
	}
	for src, ov := range c.Sources {
		base := merged[src]
		if ov.Timeout > 0 {
			base.Timeout = ov.Timeout
		}
		if ov.MaxRetries > 0 {
			base.MaxRetries = ov.MaxRetries
		}
		if ov.PageSize > 0 {
			base.PageSize = ov.PageSize
		}
		if ov.MaxPages > 0 {
			base.MaxPages = ov.MaxPages
		}
		if ov.Priority > 0 {
			base.Priority = ov.Priority
		}
		base.IncludeAttachments = ov.IncludeAttachments
		merged[src] = base
	}
	c.Sources = merged
	return c
}

func defaultOverrides(src Source) SourceOverrides {
	switch src {
	case SourceCommonCrawl:
		return SourceOverrides{
			Timeout:    DefaultCCTimeout,
			MaxRetries: DefaultMaxRetries,
			PageSize:   DefaultCCPageSize,
			Priority:   2,
		}
	default:
		return SourceOverrides{
			Timeout:    DefaultWaybackTimeout,
			MaxRetries: DefaultMaxRetries,
			PageSize:   DefaultWaybackPageSize,
			Priority:   1,
		}
	}
}

// Validate rejects configs that could not be executed.
func (c JobConfig) Validate() error {
	switch c.Mode {
	case ModeWaybackOnly, ModeCommonCrawlOnly, ModeHybrid:
	default:
		return fmt.Errorf("unknown source mode %q", c.Mode)
	}
	switch c.FallbackStrategy {
	case FallbackImmediate, FallbackRetryThenFallback, FallbackCircuitBreaker:
	default:
		return fmt.Errorf("unknown fallback strategy %q", c.FallbackStrategy)
	}
	if c.ConcurrencyLimit <= 0 {
		return fmt.Errorf("concurrency_limit must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0")
	}
	return nil
}

// Ordered returns the sources a hybrid job should attempt, primary first.
// Single-source modes return exactly one entry.
func (c JobConfig) Ordered() []Source {
	switch c.Mode {
	case ModeWaybackOnly:
		return []Source{SourceWayback}
	case ModeCommonCrawlOnly:
		return []Source{SourceCommonCrawl}
	}
	a, b := SourceWayback, SourceCommonCrawl
	if c.Sources[b].Priority < c.Sources[a].Priority {
		a, b = b, a
	}
	return []Source{a, b}
}
