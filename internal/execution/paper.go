package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

// PaperAdapter is a simulated venue used for tests and dry-run
// deployments: it acks immediately and fills at the order's reference
// price (or a quoted mark fetched from an HTTP price source over resty,
// when configured) after a short simulated latency. Submit is
// idempotent per orderID (spec.md §4.8).
type PaperAdapter struct {
	venue     string
	clk       clock.Clock
	http      *resty.Client
	priceURL  string // optional: "<base>/{symbol}" returns {"price": "..."}
	latency   time.Duration

	mu       sync.Mutex
	accepted map[string]struct{}

	out chan AdapterEvent
}

// NewPaperAdapter creates a paper venue adapter. priceURL may be empty,
// in which case fills use the order's own price and an order without one
// (a market order) is rejected.
func NewPaperAdapter(venue string, clk clock.Clock, priceURL string, latency time.Duration) *PaperAdapter {
	return &PaperAdapter{
		venue:    venue,
		clk:      clk,
		http:     resty.New().SetTimeout(3 * time.Second),
		priceURL: priceURL,
		latency:  latency,
		accepted: make(map[string]struct{}),
		out:      make(chan AdapterEvent, 1024),
	}
}

func (a *PaperAdapter) Venue() string                  { return a.venue }
func (a *PaperAdapter) Events() <-chan AdapterEvent    { return a.out }

func (a *PaperAdapter) Submit(ctx context.Context, order domain.OrderIntent) error {
	a.mu.Lock()
	_, dup := a.accepted[order.ID]
	if !dup {
		a.accepted[order.ID] = struct{}{}
	}
	a.mu.Unlock()
	if dup {
		return nil
	}

	a.emit(AdapterEvent{Kind: EventAck, Ack: domain.OrderAck{ID: order.ID, T: a.clk.NowMs(), Venue: a.venue}})

	go a.settle(ctx, order)
	return nil
}

func (a *PaperAdapter) settle(ctx context.Context, order domain.OrderIntent) {
	select {
	case <-time.After(a.latency):
	case <-ctx.Done():
		return
	}

	px, err := a.fillPrice(ctx, order)
	if err != nil {
		a.emit(AdapterEvent{Kind: EventReject, Reject: domain.OrderReject{ID: order.ID, T: a.clk.NowMs(), Reason: err.Error()}})
		return
	}

	fee := px.Mul(order.Qty).Mul(order.Meta.ExpectedFeeBps).Div(decimal.NewFromInt(10000))
	a.emit(AdapterEvent{Kind: EventFill, Fill: domain.Fill{
		ID:        clock.NewID(),
		OrderID:   order.ID,
		T:         a.clk.NowMs(),
		Symbol:    order.Symbol,
		Px:        px,
		Qty:       order.Qty,
		Side:      order.Side,
		Fee:       fee,
		Liquidity: order.Meta.Liquidity,
	}})
}

func (a *PaperAdapter) fillPrice(ctx context.Context, order domain.OrderIntent) (decimal.Decimal, error) {
	if order.Px != nil {
		return *order.Px, nil
	}
	if a.priceURL == "" {
		return decimal.Zero, fmt.Errorf("paper adapter: no reference price for market order %s", order.ID)
	}

	var body struct {
		Price string `json:"price"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&body).Get(fmt.Sprintf("%s/%s", a.priceURL, order.Symbol))
	if err != nil {
		return decimal.Zero, fmt.Errorf("paper adapter: price lookup failed: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("paper adapter: price source status %d", resp.StatusCode())
	}
	return decimal.NewFromString(body.Price)
}

func (a *PaperAdapter) Cancel(ctx context.Context, orderID string) error {
	a.emit(AdapterEvent{Kind: EventCancel, Cancel: domain.OrderCancelEvent{ID: orderID, T: a.clk.NowMs(), Reason: "requested"}})
	return nil
}

func (a *PaperAdapter) emit(e AdapterEvent) {
	select {
	case a.out <- e:
	default:
	}
}
