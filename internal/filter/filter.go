// Package filter implements the multi-stage record filter that bounds
// extraction cost: static-asset and list-page denylists, size bounds,
// job-scoped digest dedup, and priority scoring for the survivors.
package filter

import (
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Size bounds and scoring buckets, in bytes.
const (
	minContentLength = 1 << 10  // 1KB
	maxContentLength = 10 << 20 // 10MB

	substantialMin = 5 << 10   // 5KB
	substantialMax = 500 << 10 // 500KB

	freshnessWindow = 30 * 24 * time.Hour
)

// Counters aggregates filter outcomes for one job.
type Counters struct {
	Evaluated    atomic.Int64
	Kept         atomic.Int64
	StaticAsset  atomic.Int64
	ListPage     atomic.Int64
	SizeOutRange atomic.Int64
	Attachment   atomic.Int64
	Duplicate    atomic.Int64
	Malformed    atomic.Int64
}

// Filter evaluates CDX records for one crawl job. It is a pure decision
// function except for the injected dedup set and outcome counters; safe for
// concurrent use.
type Filter struct {
	dedup *DigestSet
	clock archive.Clock
	// attachments holds the per-source include_attachments flags; sources
	// absent from the map drop PDF and other attachment records.
	attachments map[archive.Source]bool
	logger      *zap.Logger
	counters    *Counters
}

// New builds a Filter around the caller-owned, job-scoped dedup set.
func New(dedup *DigestSet, clock archive.Clock, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{
		dedup:    dedup,
		clock:    clock,
		logger:   logger,
		counters: &Counters{},
	}
}

// AllowAttachments sets the per-source attachment policy from the job's
// merged source overrides. Call before streaming records through Evaluate.
func (f *Filter) AllowAttachments(sources map[archive.Source]bool) *Filter {
	f.attachments = sources
	return f
}

// Counters exposes the running outcome tallies.
func (f *Filter) Counters() *Counters {
	return f.counters
}

// Evaluate runs the pipeline over one record. Stages apply in order and the
// first match wins; survivors get a priority in [1,10].
func (f *Filter) Evaluate(rec archive.CDXRecord) archive.FilterDecision {
	f.counters.Evaluated.Add(1)

	if !wellFormed(rec) {
		f.counters.Malformed.Add(1)
		f.logger.Debug("dropping malformed record", zap.String("url", rec.URL))
		return drop(rec, archive.DropMalformed)
	}
	if isStaticAsset(rec.URL) {
		f.counters.StaticAsset.Add(1)
		return drop(rec, archive.DropStaticAsset)
	}
	if rec.ContentLength < minContentLength || rec.ContentLength > maxContentLength {
		f.counters.SizeOutRange.Add(1)
		return drop(rec, archive.DropSizeOutOfRange)
	}
	if isListPage(rec.URL) {
		f.counters.ListPage.Add(1)
		return drop(rec, archive.DropListPage)
	}
	if isAttachment(rec) && !f.attachments[rec.Source] {
		f.counters.Attachment.Add(1)
		return drop(rec, archive.DropAttachment)
	}
	if f.dedup.Add(rec.Digest) {
		f.counters.Duplicate.Add(1)
		return drop(rec, archive.DropDuplicate)
	}

	f.counters.Kept.Add(1)
	return archive.FilterDecision{
		Record:   rec,
		Outcome:  archive.OutcomeKeep,
		Priority: f.score(rec),
	}
}

// EvaluateAll evaluates a page of records. Output order matches input order,
// but consumers should not rely on that; SortByPriority re-orders kept
// decisions to front-load high-value content.
func (f *Filter) EvaluateAll(records []archive.CDXRecord) []archive.FilterDecision {
	out := make([]archive.FilterDecision, 0, len(records))
	for _, rec := range records {
		out = append(out, f.Evaluate(rec))
	}
	return out
}

func (f *Filter) score(rec archive.CDXRecord) int {
	score := 1
	host := hostOf(rec.URL)
	for _, tld := range researchTLDs {
		if strings.HasSuffix(host, tld) {
			score += 3
			break
		}
	}
	lower := strings.ToLower(rec.URL)
	for _, kw := range researchKeywords {
		if strings.Contains(lower, kw) {
			score += 2
			break
		}
	}
	if rec.ContentLength >= substantialMin && rec.ContentLength <= substantialMax {
		score += 2
	}
	if strings.Contains(rec.MimeType, "application/pdf") {
		score++
	}
	if f.clock.Now().Sub(rec.Timestamp) < freshnessWindow {
		score++
	}
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}
	return score
}

// SortByPriority orders kept decisions by priority descending, breaking ties
// by content length descending.
func SortByPriority(decisions []archive.FilterDecision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		if decisions[i].Priority != decisions[j].Priority {
			return decisions[i].Priority > decisions[j].Priority
		}
		return decisions[i].Record.ContentLength > decisions[j].Record.ContentLength
	})
}

func wellFormed(rec archive.CDXRecord) bool {
	return rec.URL != "" && rec.Digest != "" && !rec.Timestamp.IsZero()
}

func isStaticAsset(raw string) bool {
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	}
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(path[idx:])
	_, ok := staticAssetExtensions[ext]
	return ok
}

func isAttachment(rec archive.CDXRecord) bool {
	return strings.Contains(rec.MimeType, "application/pdf")
}

func isListPage(raw string) bool {
	for _, pat := range listPagePatterns {
		if pat.MatchString(raw) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Hostname())
}

func drop(rec archive.CDXRecord, reason archive.DropReason) archive.FilterDecision {
	return archive.FilterDecision{Record: rec, Outcome: archive.OutcomeDrop, Reason: reason}
}
