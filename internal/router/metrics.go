package router

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapradar/archive-crawler/internal/archive"
)

const defaultRingSize = 1000

// sourceMetrics keeps a bounded ring of recent query outcomes for one source.
// Success rate and average latency are computed over the ring, total queries
// over the source's lifetime.
type sourceMetrics struct {
	total       atomic.Int64
	lastSuccess atomic.Int64 // unix nanos, 0 = never

	mu     sync.Mutex
	ring   []outcome
	next   int
	filled int
}

type outcome struct {
	ok      bool
	latency time.Duration
}

func newSourceMetrics(size int) *sourceMetrics {
	if size <= 0 {
		size = defaultRingSize
	}
	return &sourceMetrics{ring: make([]outcome, size)}
}

func (m *sourceMetrics) record(ok bool, latency time.Duration, now time.Time) {
	m.total.Add(1)
	if ok {
		m.lastSuccess.Store(now.UnixNano())
	}
	m.mu.Lock()
	m.ring[m.next] = outcome{ok: ok, latency: latency}
	m.next = (m.next + 1) % len(m.ring)
	if m.filled < len(m.ring) {
		m.filled++
	}
	m.mu.Unlock()
}

func (m *sourceMetrics) snapshot() (successRate float64, avgLatency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled == 0 {
		return 0, 0
	}
	okCount := 0
	var total time.Duration
	for i := 0; i < m.filled; i++ {
		if m.ring[i].ok {
			okCount++
		}
		total += m.ring[i].latency
	}
	return float64(okCount) / float64(m.filled), total / time.Duration(m.filled)
}

func (m *sourceMetrics) lastSuccessAt() *time.Time {
	nanos := m.lastSuccess.Load()
	if nanos == 0 {
		return nil
	}
	t := time.Unix(0, nanos)
	return &t
}

// Metrics aggregates rolling per-source performance for the ops API.
type Metrics struct {
	mu      sync.Mutex
	sources map[archive.Source]*sourceMetrics
	size    int
	clock   archive.Clock
}

// NewMetrics builds a Metrics registry with the given ring size per source.
func NewMetrics(ringSize int, clock archive.Clock) *Metrics {
	return &Metrics{
		sources: make(map[archive.Source]*sourceMetrics),
		size:    ringSize,
		clock:   clock,
	}
}

func (m *Metrics) forSource(src archive.Source) *sourceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.sources[src]
	if !ok {
		sm = newSourceMetrics(m.size)
		m.sources[src] = sm
	}
	return sm
}

// Record logs one query outcome for the source.
func (m *Metrics) Record(src archive.Source, ok bool, latency time.Duration) {
	m.forSource(src).record(ok, latency, m.clock.Now())
}

// Performance returns the rolling statistics for one source.
func (m *Metrics) Performance(src archive.Source) archive.SourcePerformance {
	sm := m.forSource(src)
	rate, avg := sm.snapshot()
	return archive.SourcePerformance{
		Source:            src,
		TotalQueries:      sm.total.Load(),
		SuccessRate:       rate,
		AvgResponseTimeMs: float64(avg.Microseconds()) / 1000.0,
	}
}

// LastSuccessAt returns when the source last answered successfully, or nil.
func (m *Metrics) LastSuccessAt(src archive.Source) *time.Time {
	return m.forSource(src).lastSuccessAt()
}
