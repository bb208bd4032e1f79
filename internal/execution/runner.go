package execution

import (
	"context"
	"log"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/pkg/metrics"
)

// Runner drives order.new events through a Policy-wrapped Adapter and
// republishes the adapter's ack/fill/reject/cancel events onto the bus.
type Runner struct {
	bus    *events.Bus
	clk    clock.Clock
	policy *Policy

	subOrders <-chan events.DomainEvent
	unsub     func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRunner creates an execution runner wrapping policy.
func NewRunner(bus *events.Bus, clk clock.Clock, policy *Policy) *Runner {
	return &Runner{bus: bus, clk: clk, policy: policy}
}

// Start subscribes to order.new and begins forwarding adapter events.
func (r *Runner) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.subOrders, r.unsub = r.bus.Subscribe(events.TypeOrderNew, 4096)
	r.done = make(chan struct{})

	go r.pumpOrders(runCtx)
	go r.pumpAdapterEvents(runCtx)
}

func (r *Runner) pumpOrders(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-r.subOrders:
			if !ok {
				return
			}
			order, ok := e.Data.(domain.OrderIntent)
			if !ok {
				continue
			}
			if err := r.policy.Submit(ctx, order); err != nil {
				log.Printf("execution: submit %s failed: %v", order.ID, err)
				r.bus.Publish(events.DomainEvent{
					ID:   clock.NewID(),
					Type: events.TypeOrderReject,
					Data: domain.OrderReject{ID: order.ID, T: r.clk.NowMs(), Reason: err.Error()},
					Ts:   r.clk.Now(),
				})
				continue
			}
			metrics.OrdersSubmitted.Inc()
		}
	}
}

func (r *Runner) pumpAdapterEvents(ctx context.Context) {
	defer close(r.done)
	adapterEvents := r.policy.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ae, ok := <-adapterEvents:
			if !ok {
				return
			}
			r.forward(ae)
		}
	}
}

func (r *Runner) forward(ae AdapterEvent) {
	switch ae.Kind {
	case EventAck:
		r.publish(events.TypeOrderAck, ae.Ack)
	case EventFill:
		r.publish(events.TypeOrderFill, ae.Fill)
	case EventReject:
		r.publish(events.TypeOrderReject, ae.Reject)
	case EventCancel:
		r.publish(events.TypeOrderCancel, ae.Cancel)
	}
}

func (r *Runner) publish(t events.Type, data any) {
	r.bus.Publish(events.DomainEvent{ID: clock.NewID(), Type: t, Data: data, Ts: r.clk.Now()})
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
