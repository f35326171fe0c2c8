// Package breaker implements a circuit breaker guarding one flaky dependency.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's current mode.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when a call is rejected because the circuit is open or
// a half-open probe is already pending.
var ErrOpen = errors.New("circuit open")

// Config tunes one breaker instance.
type Config struct {
	// FailureThreshold consecutive failures trip the breaker (default 5).
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it (default 3).
	SuccessThreshold int
	// OpenTimeout is the initial fail-fast window (default 60s).
	OpenTimeout time.Duration
	// BackoffFactor multiplies the timeout on each half-open failure when
	// ExponentialBackoff is set (default 2.0).
	BackoffFactor float64
	// MaxTimeout caps the grown timeout (default 600s).
	MaxTimeout time.Duration
	// ExponentialBackoff enables timeout growth on repeated trips.
	ExponentialBackoff bool
	// CountCancellation makes caller-initiated context cancellation count as
	// a failure. Left off: a caller giving up says nothing about the
	// dependency's health.
	CountCancellation bool

	Now    func() time.Time
	Logger *zap.Logger
}

// Status is a point-in-time snapshot for the ops API.
type Status struct {
	Name         string     `json:"name"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// Breaker protects one named dependency. The zero value is not usable; use New.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	failures       int
	successes      int
	openedAt       time.Time
	currentTimeout time.Duration

	// probing guards the single half-open probe slot; CAS prevents the
	// check-then-act race between concurrent callers.
	probing atomic.Bool

	logger *zap.Logger
}

// New builds a Breaker with defaults filled in.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 600 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Breaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		currentTimeout: cfg.OpenTimeout,
		logger:         cfg.Logger,
	}
}

// Execute runs fn under the breaker. When the circuit is open it fails fast
// with ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}

	callErr := fn(ctx)
	if probe {
		b.probing.Store(false)
	}

	if callErr == nil {
		b.onSuccess()
		return nil
	}
	if b.isCancellation(ctx, callErr) && !b.cfg.CountCancellation {
		// Do not punish the dependency for the caller hanging up.
		return callErr
	}
	b.onFailure()
	return callErr
}

// admit decides whether the call may proceed, returning probe=true when this
// call holds the single half-open probe slot.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.currentTimeout {
			return false, ErrOpen
		}
		if !b.probing.CompareAndSwap(false, true) {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
		b.logger.Debug("circuit half-open, admitting probe", zap.String("breaker", b.name))
		return true, nil
	case StateHalfOpen:
		if !b.probing.CompareAndSwap(false, true) {
			return false, ErrOpen
		}
		return true, nil
	}
	return false, nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.currentTimeout = b.cfg.OpenTimeout
			b.logger.Info("circuit closed", zap.String("breaker", b.name))
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if b.cfg.ExponentialBackoff {
			grown := time.Duration(float64(b.currentTimeout) * b.cfg.BackoffFactor)
			if grown > b.cfg.MaxTimeout {
				grown = b.cfg.MaxTimeout
			}
			b.currentTimeout = grown
		}
		b.trip()
	}
}

// trip moves to open. Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	b.successes = 0
	b.logger.Warn("circuit opened",
		zap.String("breaker", b.name),
		zap.Int("consecutive_failures", b.failures),
		zap.Duration("timeout", b.currentTimeout),
	)
}

func (b *Breaker) isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reset forces the breaker closed. Intended for admin endpoints.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.currentTimeout = b.cfg.OpenTimeout
	b.probing.Store(false)
}

// GetStatus returns a snapshot of the breaker.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
	}
	if b.state != StateClosed && !b.openedAt.IsZero() {
		opened := b.openedAt
		st.OpenedAt = &opened
	}
	return st
}

// State returns the current state without the full snapshot.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
