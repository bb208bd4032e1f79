package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/pkg/exchanges/common"
)

type fakeGateway struct {
	result common.OrderResult
	err    error
	cancels []string
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return g.result, g.err
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	g.cancels = append(g.cancels, symbol+":"+exchangeOrderID)
	return nil
}

func TestLiveAdapter_SubmitFilledEmitsAckAndFill(t *testing.T) {
	gw := &fakeGateway{result: common.OrderResult{ExchangeOrderID: "ex-1", Status: common.StatusFilled}}
	clk := clock.NewFixed(time.Unix(0, 0))
	a := NewLiveAdapter("binance-spot", gw, clk)

	px := decimal.NewFromInt(100)
	order := domain.OrderIntent{ID: "o-1", Symbol: "BTCUSDT", Side: domain.Buy, Qty: decimal.NewFromInt(1), Type: domain.Market, TIF: domain.IOC, Px: &px}
	require.NoError(t, a.Submit(context.Background(), order))

	ack := <-a.Events()
	require.Equal(t, EventAck, ack.Kind)
	fill := <-a.Events()
	require.Equal(t, EventFill, fill.Kind)
	require.Equal(t, "BTCUSDT", fill.Fill.Symbol)
}

func TestLiveAdapter_SubmitIsIdempotent(t *testing.T) {
	gw := &fakeGateway{result: common.OrderResult{ExchangeOrderID: "ex-1", Status: common.StatusNew}}
	clk := clock.NewFixed(time.Unix(0, 0))
	a := NewLiveAdapter("binance-spot", gw, clk)

	order := domain.OrderIntent{ID: "o-1", Symbol: "BTCUSDT", Side: domain.Buy, Qty: decimal.NewFromInt(1), Type: domain.Market, TIF: domain.IOC}
	require.NoError(t, a.Submit(context.Background(), order))
	<-a.Events()
	require.NoError(t, a.Submit(context.Background(), order))

	select {
	case e := <-a.Events():
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}

func TestLiveAdapter_CancelUsesExchangeRef(t *testing.T) {
	gw := &fakeGateway{result: common.OrderResult{ExchangeOrderID: "ex-9", Status: common.StatusNew}}
	clk := clock.NewFixed(time.Unix(0, 0))
	a := NewLiveAdapter("binance-spot", gw, clk)

	order := domain.OrderIntent{ID: "o-1", Symbol: "ETHUSDT", Side: domain.Sell, Qty: decimal.NewFromInt(1), Type: domain.Limit, TIF: domain.GTC}
	require.NoError(t, a.Submit(context.Background(), order))
	<-a.Events()

	require.NoError(t, a.Cancel(context.Background(), "o-1"))
	require.Equal(t, []string{"ETHUSDT:ex-9"}, gw.cancels)
}

func TestLiveAdapter_SubmitErrorEmitsReject(t *testing.T) {
	gw := &fakeGateway{err: errors.New("venue down")}
	clk := clock.NewFixed(time.Unix(0, 0))
	a := NewLiveAdapter("binance-spot", gw, clk)

	order := domain.OrderIntent{ID: "o-1", Symbol: "BTCUSDT", Side: domain.Buy, Qty: decimal.NewFromInt(1), Type: domain.Market, TIF: domain.IOC}
	require.Error(t, a.Submit(context.Background(), order))

	reject := <-a.Events()
	require.Equal(t, EventReject, reject.Kind)
}
