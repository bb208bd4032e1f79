package risk

import (
	"context"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/pkg/metrics"
)

// Runner subscribes to strategy.intent events, runs each through a
// Pipeline, and republishes approved orders as order.new. Rejections are
// only observable through the risk.check tap the Pipeline itself emits.
// It also subscribes to the order lifecycle's terminal events so the
// Pipeline's quote/base/margin reservations (spec.md §4.6: "reservations
// are released on reject/cancel, consumed on fill") don't leak forever,
// and consults a kill-switch before ever publishing order.new (spec.md
// SUPPLEMENTED FEATURES: the kill switch is checked before intents are
// merged into the shared order stream).
type Runner struct {
	bus      *events.Bus
	clk      clock.Clock
	pipeline *Pipeline
	killed   func() bool

	sub       <-chan events.DomainEvent
	subFill   <-chan events.DomainEvent
	subReject <-chan events.DomainEvent
	subCancel <-chan events.DomainEvent
	unsubs    []func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRunner creates a risk runner over pipeline. killed, when non-nil, is
// consulted before every order.new publish; a true result rejects the
// order instead (e.g. internal/riskbreach.Monitor.Killed).
func NewRunner(bus *events.Bus, clk clock.Clock, pipeline *Pipeline, killed func() bool) *Runner {
	return &Runner{bus: bus, clk: clk, pipeline: pipeline, killed: killed}
}

// Start begins consuming strategy.intent events and the order lifecycle's
// terminal events.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var unsub func()
	r.sub, unsub = r.bus.Subscribe(events.TypeStrategyIntent, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subFill, unsub = r.bus.Subscribe(events.TypeOrderFill, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subReject, unsub = r.bus.Subscribe(events.TypeOrderReject, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subCancel, unsub = r.bus.Subscribe(events.TypeOrderCancel, 4096)
	r.unsubs = append(r.unsubs, unsub)

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
			case e, ok := <-r.subFill:
				if !ok {
					return
				}
				r.release(e)
			case e, ok := <-r.subReject:
				if !ok {
					return
				}
				r.release(e)
			case e, ok := <-r.subCancel:
				if !ok {
					return
				}
				r.release(e)
			}
		}
	}()
}

func (r *Runner) handle(e events.DomainEvent) {
	order, ok := e.Data.(domain.OrderIntent)
	if !ok {
		return
	}
	sandbox, _ := e.Metadata["sandbox"].(bool)
	if sandbox {
		// Sandbox strategies compute intents that never reach execution
		// (spec.md §4.7); the pipeline still taps risk.check for
		// observability, but approved orders are dropped here.
		r.pipeline.Check(order)
		return
	}

	appr, _, ok := r.pipeline.Check(order)
	if !ok {
		metrics.RiskRejected.Inc()
		return
	}

	if r.killed != nil && r.killed() {
		r.pipeline.Release(appr.Order.ID)
		r.pipeline.tap(appr.Order.ID, false, []Reason{ReasonKillSwitch})
		metrics.RiskRejected.Inc()
		return
	}

	r.bus.Publish(events.DomainEvent{
		ID:   clock.NewID(),
		Type: events.TypeOrderNew,
		Data: appr.Order,
		Ts:   r.clk.Now(),
	})
}

// release frees the reservation backing a terminal order-lifecycle event
// (fill/reject/cancel). Fills free the reservation rather than settling it
// against the account ledger here; settlement is internal/account's
// FillAccounting's concern, not the risk pipeline's.
func (r *Runner) release(e events.DomainEvent) {
	id, ok := orderID(e)
	if !ok {
		return
	}
	r.pipeline.Release(id)
}

func orderID(e events.DomainEvent) (string, bool) {
	switch v := e.Data.(type) {
	case domain.Fill:
		return v.OrderID, true
	case domain.OrderReject:
		return v.ID, true
	case domain.OrderCancelEvent:
		return v.ID, true
	default:
		return "", false
	}
}

// Close stops the runner.
func (r *Runner) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}
