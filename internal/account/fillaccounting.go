package account

import (
	"context"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// AssetsFunc resolves the base/quote asset pair for a symbol.
type AssetsFunc func(symbol string) (base, quote string, ok bool)

// FillAccounting subscribes to order.fill events and, for each fill with
// a known base/quote pair and a positive price, emits the two
// account.balance.adjusted events that settle it: a base delta of ±qty
// and a quote delta of ∓(qty·px + fee) (spec.md §4.10).
type FillAccounting struct {
	bus    *events.Bus
	clk    clock.Clock
	venue  string
	assets AssetsFunc

	sub    <-chan events.DomainEvent
	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFillAccounting creates a fill-accounting runner for one venue.
func NewFillAccounting(bus *events.Bus, clk clock.Clock, venue string, assets AssetsFunc) *FillAccounting {
	return &FillAccounting{bus: bus, clk: clk, venue: venue, assets: assets}
}

// Start begins consuming order.fill events.
func (f *FillAccounting) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.sub, f.unsub = f.bus.Subscribe(events.TypeOrderFill, 4096)
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-f.sub:
				if !ok {
					return
				}
				f.handle(e)
			}
		}
	}()
}

func (f *FillAccounting) handle(e events.DomainEvent) {
	fill, ok := e.Data.(domain.Fill)
	if !ok || fill.Px.IsZero() || fill.Qty.IsZero() {
		return
	}
	base, quote, ok := f.assets(fill.Symbol)
	if !ok {
		return
	}

	baseDelta := fill.Side.SignedQty(fill.Qty)
	quoteDelta := baseDelta.Mul(fill.Px).Neg().Sub(fill.Fee)

	meta := map[string]any{"orderId": fill.OrderID, "fillId": fill.ID, "reason": "fill"}

	f.publish(BalanceAdjustment{Venue: f.venue, Asset: base, Delta: baseDelta, Reason: "fill", Meta: meta})
	f.publish(BalanceAdjustment{Venue: f.venue, Asset: quote, Delta: quoteDelta, Reason: "fill", Meta: meta})
}

func (f *FillAccounting) publish(adj BalanceAdjustment) {
	f.bus.Publish(events.DomainEvent{
		ID:       clock.NewID(),
		Type:     events.TypeAccountBalanceAdjust,
		Data:     adj,
		Ts:       f.clk.Now(),
		Metadata: adj.Meta,
	})
}

// Close stops the runner.
func (f *FillAccounting) Close() {
	if f.unsub != nil {
		f.unsub()
	}
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
}
