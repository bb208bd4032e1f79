package strategy

import (
	"context"
	"fmt"
	"log"
	"sync"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// entry pairs a registered strategy with its sandbox flag; pause state is
// kept in Runner.paused.
type entry struct {
	strategy Strategy
	sandbox  bool
}

// Runner is the Strategy Runner (spec.md C8): it subscribes to market
// ticks on the event bus, fans each tick out to every registered,
// non-paused strategy, and publishes any resulting Signal. Sandbox
// strategies (entry.sandbox) publish signals exactly like live ones —
// it is the intent builder/orchestrator's job to keep their intents from
// reaching execution (spec.md §4.7).
type Runner struct {
	bus *events.Bus
	clk clock.Clock
	ctx Context

	mu       sync.Mutex
	entries  map[string]*entry
	paused   map[string]bool

	sub    <-chan events.DomainEvent
	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a strategy runner bound to bus.
func NewRunner(bus *events.Bus, clk clock.Clock, ctx Context) *Runner {
	return &Runner{
		bus:     bus,
		clk:     clk,
		ctx:     ctx,
		entries: make(map[string]*entry),
		paused:  make(map[string]bool),
	}
}

// Add registers a strategy. sandbox marks its signals as sandbox-only.
func (r *Runner) Add(s Strategy, sandbox bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID()] = &entry{strategy: s, sandbox: sandbox}
}

// Pause suspends dispatch to a strategy without removing it.
func (r *Runner) Pause(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[id] = true
}

// Resume clears a pause.
func (r *Runner) Resume(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paused, id)
}

// Stop removes a strategy entirely.
func (r *Runner) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	delete(r.paused, id)
}

// Start subscribes to market ticks and begins dispatch; cancel via ctx or
// Close.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.sub, r.unsub = r.bus.Subscribe(events.TypeMarketTick, 4096)
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
				t, ok := e.Data.(domain.Tick)
				if !ok {
					continue
				}
				r.dispatch(t)
			}
		}
	}()
}

func (r *Runner) dispatch(t domain.Tick) {
	r.mu.Lock()
	live := make([]*entry, 0, len(r.entries))
	for id, en := range r.entries {
		if r.paused[id] {
			continue
		}
		live = append(live, en)
	}
	r.mu.Unlock()

	for _, en := range live {
		sig, err := en.strategy.OnTick(t)
		if err != nil {
			log.Printf("strategy: %s OnTick error: %v", en.strategy.ID(), err)
			continue
		}
		if sig == nil {
			continue
		}
		r.publish(sig, en.sandbox)
	}
}

func (r *Runner) publish(sig *domain.Signal, sandbox bool) {
	meta := map[string]any{"sandbox": sandbox}
	r.bus.Publish(events.DomainEvent{
		ID:       clock.NewID(),
		Type:     events.TypeStrategySignal,
		Data:     *sig,
		Ts:       r.clk.Now(),
		Metadata: meta,
		TraceID:  fmt.Sprintf("%s:%d", sig.StrategyID, sig.T),
	})
}

// Close stops the runner and waits for its dispatch goroutine to exit.
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
