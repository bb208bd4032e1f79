// Package riskbreach is the Risk-Breach Monitor (spec.md C19): it
// polls portfolio analytics for NAV-floor or max-drawdown breaches and
// emits a risk.breach event, flipping a kill switch that risk.Runner
// consults after the pipeline check: while it is engaged every intent,
// exit intents included, is rejected. Grounded on
// the teacher's risk manager's threshold-check shape, generalized from
// per-order checks to a book-wide watchdog.
package riskbreach

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// Config bounds the book-wide breach thresholds. Zero disables a check.
type Config struct {
	NavFloor       decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	PollInterval   time.Duration
}

// DefaultConfig polls once a second with both checks disabled.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second}
}

// BreachKind tags which threshold tripped.
type BreachKind string

const (
	BreachNavFloor BreachKind = "NAV_FLOOR"
	BreachDrawdown BreachKind = "MAX_DRAWDOWN"
)

// Breach is the payload of a risk.breach event raised by this monitor.
type Breach struct {
	Kind        BreachKind
	Nav         decimal.Decimal
	DrawdownPct decimal.Decimal
	T           int64
}

// AnalyticsSource supplies the live book-wide analytics to poll,
// satisfied directly by *portfolio.Book.
type AnalyticsSource interface {
	Analytics() domain.PortfolioAnalytics
}

// Monitor polls AnalyticsSource on an interval; every check that finds a
// threshold crossed publishes a risk.breach event and engages the kill
// switch, which clears once NAV is back at or above the floor and
// drawdown falls back under the cap.
type Monitor struct {
	bus    *events.Bus
	clk    clock.Clock
	cfg    Config
	source AnalyticsSource

	killed int32 // atomic bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a risk-breach monitor.
func New(bus *events.Bus, clk clock.Clock, source AnalyticsSource, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Monitor{bus: bus, clk: clk, cfg: cfg, source: source}
}

// Start begins the poll loop.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.Check(m.source.Analytics())
			}
		}
	}()
}

// Check runs the threshold set against a single analytics sample; tests
// and callers with their own polling cadence can call this directly
// instead of Start's ticker loop.
func (m *Monitor) Check(a domain.PortfolioAnalytics) {
	if !m.cfg.NavFloor.IsZero() && a.Nav.LessThan(m.cfg.NavFloor) {
		m.trip(BreachNavFloor, a.Nav, a.DrawdownPct)
		return
	}
	if !m.cfg.MaxDrawdownPct.IsZero() && a.DrawdownPct.GreaterThanOrEqual(m.cfg.MaxDrawdownPct) {
		m.trip(BreachDrawdown, a.Nav, a.DrawdownPct)
		return
	}
	if m.Killed() {
		navOk := m.cfg.NavFloor.IsZero() || a.Nav.GreaterThanOrEqual(m.cfg.NavFloor)
		ddOk := m.cfg.MaxDrawdownPct.IsZero() || a.DrawdownPct.LessThan(m.cfg.MaxDrawdownPct)
		if navOk && ddOk {
			m.clear()
		}
	}
}

func (m *Monitor) trip(kind BreachKind, nav, drawdownPct decimal.Decimal) {
	atomic.StoreInt32(&m.killed, 1)
	m.bus.Publish(events.DomainEvent{
		ID:   clock.NewID(),
		Type: events.TypeRiskBreach,
		Data: Breach{Kind: kind, Nav: nav, DrawdownPct: drawdownPct, T: m.clk.NowMs()},
		Ts:   m.clk.Now(),
	})
}

func (m *Monitor) clear() {
	atomic.StoreInt32(&m.killed, 0)
}

// Killed reports whether the book-wide kill switch is currently engaged.
// risk.Runner consults it after Pipeline.Check and rejects every approved
// intent while it is true, exit intents included.
func (m *Monitor) Killed() bool {
	return atomic.LoadInt32(&m.killed) == 1
}

// Close stops the poll loop.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}
