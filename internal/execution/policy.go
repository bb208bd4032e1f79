package execution

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/pkg/metrics"
)

// breakerState is the circuit breaker's three-state machine (spec.md §4.8).
type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// RetryConfig governs Policy's retry/backoff around Adapter.Submit.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction, e.g. 0.2 = ±20%
}

// DefaultRetryConfig mirrors the teacher's websocket reconnect defaults,
// generalized to order submission.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.2}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if time.Duration(d) > c.MaxDelay {
		d = float64(c.MaxDelay)
	}
	jitter := 1 + (rand.Float64()*2-1)*c.Jitter
	return time.Duration(d * jitter)
}

// BreakerConfig governs the circuit breaker layered in front of Adapter.
type BreakerConfig struct {
	FailureThreshold     int
	CooldownMs           int64
	HalfOpenMaxSuccesses int
}

// DefaultBreakerConfig is a conservative starting point.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, CooldownMs: 30000, HalfOpenMaxSuccesses: 3}
}

// Metrics tracks policy-level counters for telemetry (spec.md §4.8).
type Metrics struct {
	Retries      int64
	Failures     int64
	Trips        int64
	CircuitGauge float64 // 0 closed, 0.5 half-open, 1 open
}

// Policy wraps an Adapter's Submit with retry+backoff and a circuit
// breaker. Cancel passes straight through — cancels are not retried, a
// stuck cancel is the reconciler's concern (spec.md §4.9).
type Policy struct {
	adapter Adapter
	retry   RetryConfig
	breaker BreakerConfig
	clk     clock.Clock

	mu                sync.Mutex
	state             breakerState
	consecutiveFails  int
	openedAt          int64
	halfOpenSuccesses int
	metrics           Metrics
}

// NewPolicy wraps adapter with retry+breaker behavior.
func NewPolicy(adapter Adapter, retry RetryConfig, breaker BreakerConfig, clk clock.Clock) *Policy {
	return &Policy{adapter: adapter, retry: retry, breaker: breaker, clk: clk}
}

// Submit retries Adapter.Submit up to retry.MaxAttempts times with capped
// jittered backoff, short-circuiting with ErrCircuitOpen while the
// breaker is open.
func (p *Policy) Submit(ctx context.Context, order domain.OrderIntent) error {
	if !p.allow() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		err := p.adapter.Submit(ctx, order)
		if err == nil {
			p.onSuccess()
			return nil
		}
		lastErr = err
		p.mu.Lock()
		p.metrics.Failures++
		p.mu.Unlock()
		metrics.ExecutionFailures.WithLabelValues(p.adapter.Venue(), "submit").Inc()

		if attempt == p.retry.MaxAttempts {
			break
		}
		p.mu.Lock()
		p.metrics.Retries++
		p.mu.Unlock()
		metrics.ExecutionRetries.WithLabelValues(p.adapter.Venue()).Inc()

		select {
		case <-time.After(p.retry.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.onFailure()
	return lastErr
}

// Cancel delegates directly to the adapter.
func (p *Policy) Cancel(ctx context.Context, orderID string) error {
	return p.adapter.Cancel(ctx, orderID)
}

// Snapshot returns a copy of the current metrics.
func (p *Policy) Snapshot() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Policy) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case closed:
		return true
	case open:
		if p.clk.NowMs()-p.openedAt >= p.breaker.CooldownMs {
			p.state = halfOpen
			p.halfOpenSuccesses = 0
			p.metrics.CircuitGauge = 0.5
			metrics.ExecutionCircuitState.WithLabelValues(p.adapter.Venue()).Set(0.5)
			return true
		}
		return false
	case halfOpen:
		return true
	}
	return true
}

func (p *Policy) onSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case halfOpen:
		p.halfOpenSuccesses++
		if p.halfOpenSuccesses >= p.breaker.HalfOpenMaxSuccesses {
			p.state = closed
			p.consecutiveFails = 0
			p.metrics.CircuitGauge = 0
			metrics.ExecutionCircuitState.WithLabelValues(p.adapter.Venue()).Set(0)
		}
	default:
		p.consecutiveFails = 0
	}
}

func (p *Policy) onFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == halfOpen {
		p.trip()
		return
	}
	p.consecutiveFails++
	if p.consecutiveFails >= p.breaker.FailureThreshold {
		p.trip()
	}
}

// trip must be called with mu held.
func (p *Policy) trip() {
	p.state = open
	p.openedAt = p.clk.NowMs()
	p.metrics.Trips++
	p.metrics.CircuitGauge = 1
	metrics.ExecutionCircuitTrips.WithLabelValues(p.adapter.Venue()).Inc()
	metrics.ExecutionCircuitState.WithLabelValues(p.adapter.Venue()).Set(1)
}
