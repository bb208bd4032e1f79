package intent

import (
	"context"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// PolicyLookup resolves the active Policy for a strategy, falling back to
// a default when none is registered.
type PolicyLookup func(strategyID string) Policy

// Runner subscribes to strategy.signal events, builds intents through a
// Builder, and republishes them as strategy.intent events for the risk
// pipeline to consume.
type Runner struct {
	bus     *events.Bus
	clk     clock.Clock
	builder *Builder
	policy  PolicyLookup

	sub    <-chan events.DomainEvent
	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates an intent runner. policy may be nil, in which case
// DefaultPolicy() is used for every strategy.
func NewRunner(bus *events.Bus, clk clock.Clock, builder *Builder, policy PolicyLookup) *Runner {
	if policy == nil {
		policy = func(string) Policy { return DefaultPolicy() }
	}
	return &Runner{bus: bus, clk: clk, builder: builder, policy: policy}
}

// Start begins consuming strategy.signal events.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sub, r.unsub = r.bus.Subscribe(events.TypeStrategySignal, 4096)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-r.sub:
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
	sandbox, _ := e.Metadata["sandbox"].(bool)

	pol := r.policy(sig.StrategyID)
	oi, ok := r.builder.Build(sig, pol)
	if !ok {
		return
	}

	r.bus.Publish(events.DomainEvent{
		ID:       clock.NewID(),
		Type:     events.TypeStrategyIntent,
		Data:     oi,
		Ts:       r.clk.Now(),
		Metadata: map[string]any{"sandbox": sandbox},
	})
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
