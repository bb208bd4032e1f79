package execution

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/pkg/exchanges/common"
)

// LiveAdapter wraps a pkg/exchanges/common.Gateway (a real venue REST
// client, e.g. the Binance spot/futures clients) as an Adapter. Submit is
// idempotent per orderID, mirroring PaperAdapter; unlike the paper venue
// it has no simulated fill: Submit's ack reflects the gateway's synchronous
// order-placement response, and an immediately-filled response (market
// orders on most venues fill inline) is surfaced as a fill too.
type LiveAdapter struct {
	venue string
	gw    common.Gateway
	clk   clock.Clock

	mu       sync.Mutex
	accepted map[string]struct{}
	exchange map[string]exchangeRef // domain order ID -> venue-assigned ref

	out chan AdapterEvent
}

type exchangeRef struct {
	symbol          string
	exchangeOrderID string
}

// NewLiveAdapter creates an adapter against gw, a concrete venue gateway
// (pkg/exchanges/common.Gateway).
func NewLiveAdapter(venue string, gw common.Gateway, clk clock.Clock) *LiveAdapter {
	return &LiveAdapter{
		venue:    venue,
		gw:       gw,
		clk:      clk,
		accepted: make(map[string]struct{}),
		exchange: make(map[string]exchangeRef),
		out:      make(chan AdapterEvent, 1024),
	}
}

func (a *LiveAdapter) Venue() string               { return a.venue }
func (a *LiveAdapter) Events() <-chan AdapterEvent { return a.out }

func (a *LiveAdapter) Submit(ctx context.Context, order domain.OrderIntent) error {
	a.mu.Lock()
	_, dup := a.accepted[order.ID]
	if !dup {
		a.accepted[order.ID] = struct{}{}
	}
	a.mu.Unlock()
	if dup {
		return nil
	}

	result, err := a.gw.SubmitOrder(ctx, toOrderRequest(order))
	if err != nil {
		a.mu.Lock()
		delete(a.accepted, order.ID)
		a.mu.Unlock()
		a.emit(AdapterEvent{Kind: EventReject, Reject: domain.OrderReject{ID: order.ID, T: a.clk.NowMs(), Reason: err.Error()}})
		return &AdapterError{Venue: a.venue, Msg: err.Error()}
	}

	a.mu.Lock()
	a.exchange[order.ID] = exchangeRef{symbol: order.Symbol, exchangeOrderID: result.ExchangeOrderID}
	a.mu.Unlock()

	a.emit(AdapterEvent{Kind: EventAck, Ack: domain.OrderAck{ID: order.ID, T: a.clk.NowMs(), Venue: a.venue}})

	switch result.Status {
	case common.StatusFilled, common.StatusPartial:
		a.emit(AdapterEvent{Kind: EventFill, Fill: domain.Fill{
			ID:      clock.NewID(),
			OrderID: order.ID,
			T:       a.clk.NowMs(),
			Symbol:  order.Symbol,
			Px:      priceOf(order),
			Qty:     order.Qty,
			Side:    order.Side,
		}})
	case common.StatusRejected, common.StatusExpired:
		a.emit(AdapterEvent{Kind: EventReject, Reject: domain.OrderReject{ID: order.ID, T: a.clk.NowMs(), Reason: string(result.Status)}})
	}
	return nil
}

func (a *LiveAdapter) Cancel(ctx context.Context, orderID string) error {
	a.mu.Lock()
	ref, ok := a.exchange[orderID]
	a.mu.Unlock()
	if !ok {
		return &AdapterError{Venue: a.venue, Msg: "cancel: unknown order " + orderID}
	}
	if err := a.gw.CancelOrder(ctx, ref.symbol, ref.exchangeOrderID); err != nil {
		return &AdapterError{Venue: a.venue, Msg: err.Error()}
	}
	a.emit(AdapterEvent{Kind: EventCancel, Cancel: domain.OrderCancelEvent{ID: orderID, T: a.clk.NowMs(), Reason: "requested"}})
	return nil
}

func (a *LiveAdapter) emit(e AdapterEvent) {
	select {
	case a.out <- e:
	default:
	}
}

func toOrderRequest(order domain.OrderIntent) common.OrderRequest {
	req := common.OrderRequest{
		Symbol:      order.Symbol,
		Side:        toCommonSide(order.Side),
		Type:        toCommonType(order.Type),
		Qty:         qtyFloat(order),
		TimeInForce: toCommonTIF(order.TIF),
		ClientID:    order.ID,
		ReduceOnly:  order.Meta.Exit,
	}
	if order.Px != nil {
		px, _ := order.Px.Float64()
		req.Price = px
	}
	return req
}

func toCommonSide(s domain.Side) common.Side {
	if s == domain.Sell {
		return common.SideSell
	}
	return common.SideBuy
}

func toCommonType(t domain.OrderType) common.OrderType {
	if t == domain.Limit {
		return common.OrderTypeLimit
	}
	return common.OrderTypeMarket
}

func toCommonTIF(t domain.TIF) common.TimeInForce {
	switch t {
	case domain.FOK:
		return common.TIFFOK
	case domain.GTC:
		return common.TIFGTC
	default:
		return common.TIFIOC
	}
}

func qtyFloat(order domain.OrderIntent) float64 {
	f, _ := order.Qty.Float64()
	return f
}

func priceOf(order domain.OrderIntent) decimal.Decimal {
	if order.Px != nil {
		return *order.Px
	}
	return decimal.Zero
}
