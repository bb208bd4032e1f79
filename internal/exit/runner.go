package exit

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// ConfigLookup resolves the exit Config for a strategy; callers default
// to a Config with zero thresholds (meaning that check never fires)
// when a strategy has none configured.
type ConfigLookup func(strategyID string) (Config, bool)

// PortfolioView is the slice of portfolio.Book the exit engine needs,
// satisfied directly by *portfolio.Book without either package
// importing the other.
type PortfolioView interface {
	Position(symbol string) (decimal.Decimal, bool)
	MarkPrice(symbol string) (decimal.Decimal, bool)
	Analytics() domain.PortfolioAnalytics
}

// Runner drives one Engine per strategy from live strategy signals,
// reading positions, marks and analytics from the portfolio as each
// signal arrives; it runs no timer of its own, so exits (time stops
// included) are evaluated only when a signal arrives. It publishes exit
// intents back onto the bus
// as ordinary strategy.intent events so they flow through the same
// risk/execution path as entries (spec.md §4.12).
type Runner struct {
	bus      *events.Bus
	clk      clock.Clock
	view     PortfolioView
	configOf ConfigLookup

	mu      sync.Mutex
	engines map[string]*Engine

	subSignal <-chan events.DomainEvent
	unsub     func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRunner creates an exit runner.
func NewRunner(bus *events.Bus, clk clock.Clock, view PortfolioView, configOf ConfigLookup) *Runner {
	return &Runner{
		bus:      bus,
		clk:      clk,
		view:     view,
		configOf: configOf,
		engines:  make(map[string]*Engine),
	}
}

func (r *Runner) engineFor(strategyID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[strategyID]
	if !ok {
		cfg, _ := r.configOf(strategyID)
		e = NewEngine(cfg)
		r.engines[strategyID] = e
	}
	return e
}

// Start subscribes to strategy signals; every signal re-evaluates that
// strategy's exit conditions for its symbol against the live portfolio.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.subSignal, r.unsub = r.bus.Subscribe(events.TypeStrategySignal, 4096)

	go func() {
		defer close(r.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-r.subSignal:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

func (r *Runner) handle(e events.DomainEvent) {
	sig, ok := e.Data.(domain.Signal)
	if !ok {
		return
	}

	pos, hasPos := r.view.Position(sig.Symbol)
	if !hasPos || pos.IsZero() {
		return
	}
	mark, ok := r.view.MarkPrice(sig.Symbol)
	if !ok {
		return
	}
	analytics := r.view.Analytics()
	posSnap := analytics.BySymbol[sig.Symbol]

	in := Inputs{
		Symbol:      sig.Symbol,
		Pos:         pos,
		AvgPx:       posSnap.AvgPx,
		Mark:        mark,
		NowMs:       r.clk.NowMs(),
		Signal:      &sig,
		GrossUsd:    grossUsd(analytics),
		DrawdownPct: analytics.DrawdownPct,
	}

	engine := r.engineFor(sig.StrategyID)
	intent, ok := engine.Evaluate(sig.StrategyID, in)
	if !ok {
		return
	}
	intent.ID = clock.NewID()

	r.bus.Publish(events.DomainEvent{
		ID:       clock.NewID(),
		Type:     events.TypeStrategyIntent,
		Data:     intent,
		Ts:       r.clk.Now(),
		Metadata: map[string]any{"sandbox": false, "exit": true, "reason": intent.Meta.Reason},
		TraceID:  intent.ID,
	})
}

func grossUsd(a domain.PortfolioAnalytics) decimal.Decimal {
	var sum decimal.Decimal
	for _, pos := range a.BySymbol {
		sum = sum.Add(pos.Notional)
	}
	return sum
}

// Close stops the runner.
func (r *Runner) Close() {
	if r.unsub != nil {
		r.unsub()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}
