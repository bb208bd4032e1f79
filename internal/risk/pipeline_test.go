package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

func testPipeline(t *testing.T, balances map[string]decimal.Decimal) *Pipeline {
	t.Helper()
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{
		Notional:    decimal.NewFromInt(10000),
		MaxPosition: decimal.NewFromInt(5),
		PriceBands: map[string]domain.PriceBand{
			"BTCUSDT": {Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(100000)},
		},
		Throttle: domain.Throttle{WindowMs: 1000, MaxCount: 10},
	}
	markPrice := func(symbol string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(symbol string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(venue, asset string) (decimal.Decimal, bool) {
		b, ok := balances[asset]
		return b, ok
	}
	assets := func(symbol string) (string, string, bool) { return "BTC", "USDT", true }
	return NewPipeline(nil, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)
}

func intent(id string, side domain.Side, qty decimal.Decimal) domain.OrderIntent {
	return domain.OrderIntent{ID: id, Symbol: "BTCUSDT", Side: side, Qty: qty, Account: "binance"}
}

func TestPipeline_ApprovesWithinAllBounds(t *testing.T) {
	p := testPipeline(t, map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100000), "BTC": decimal.NewFromInt(10)})
	appr, _, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.True(t, ok)
	require.True(t, appr.Notional.Equal(decimal.NewFromInt(100)))
}

func TestPipeline_RejectsNotionalCap(t *testing.T) {
	p := testPipeline(t, map[string]decimal.Decimal{"USDT": decimal.NewFromInt(100000)})
	_, rej, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1000)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonNotionalCap)
}

func TestPipeline_RejectsPositionCap(t *testing.T) {
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{MaxPosition: decimal.NewFromInt(1)}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(1), true }
	balance := func(string, string) (decimal.Decimal, bool) { return decimal.NewFromInt(100000), true }
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	p := NewPipeline(nil, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)

	_, rej, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonPositionCap)
}

func TestPipeline_RejectsPriceBand(t *testing.T) {
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{
		PriceBands: map[string]domain.PriceBand{"BTCUSDT": {Min: decimal.NewFromInt(200), Max: decimal.NewFromInt(300)}},
	}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(string, string) (decimal.Decimal, bool) { return decimal.NewFromInt(100000), true }
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	p := NewPipeline(nil, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)

	_, rej, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonPriceBand)
}

func TestPipeline_RejectsQuoteReserveShortfall(t *testing.T) {
	p := testPipeline(t, map[string]decimal.Decimal{"USDT": decimal.NewFromInt(50)})
	_, rej, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonQuoteReserve)
}

func TestPipeline_RejectsBaseReserveShortfall(t *testing.T) {
	p := testPipeline(t, map[string]decimal.Decimal{"BTC": decimal.NewFromFloat(0.1)})
	_, rej, ok := p.Check(intent("o1", domain.Sell, decimal.NewFromInt(1)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonBaseReserve)
}

func TestPipeline_ThrottleRejectsBeyondWindowCount(t *testing.T) {
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{Throttle: domain.Throttle{WindowMs: 1000, MaxCount: 1}}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(string, string) (decimal.Decimal, bool) { return decimal.NewFromInt(1000000), true }
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	p := NewPipeline(nil, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)

	_, _, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.True(t, ok)
	_, rej, ok := p.Check(intent("o2", domain.Buy, decimal.NewFromInt(1)))
	require.False(t, ok)
	require.Contains(t, rej.Reasons, ReasonThrottle)
}

func TestPipeline_ReleaseFreesReservationForMargin(t *testing.T) {
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{Notional: decimal.NewFromInt(1000000)}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(venue, asset string) (decimal.Decimal, bool) {
		if asset == "COLLATERAL" {
			return decimal.NewFromInt(1000), true
		}
		return decimal.Zero, false
	}
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	margin := MarginConfig{Enabled: true, LeverageCap: decimal.NewFromInt(1)}
	p := NewPipeline(nil, clk, base, margin, "binance", markPrice, position, balance, assets)

	appr, _, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(9)))
	require.True(t, ok)

	_, rej, ok := p.Check(intent("o2", domain.Buy, decimal.NewFromInt(9)))
	require.False(t, ok, "second order should be margin-rejected while o1's reservation is still held")
	require.Contains(t, rej.Reasons, ReasonMargin)

	p.Release(appr.Order.ID)

	_, _, ok = p.Check(intent("o3", domain.Buy, decimal.NewFromInt(9)))
	require.True(t, ok, "releasing o1's reservation should free collateral for a same-sized order")
}

func TestPipeline_TapsRiskCheckEvent(t *testing.T) {
	clk := clock.NewFixed(time.Unix(0, 0))
	bus := events.NewBus()
	sub, unsub := bus.Subscribe(events.TypeRiskCheck, 4)
	defer unsub()

	base := domain.RiskConfig{Notional: decimal.NewFromInt(1000000)}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(string, string) (decimal.Decimal, bool) { return decimal.NewFromInt(1000000), true }
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	p := NewPipeline(bus, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)

	_, _, ok := p.Check(intent("o1", domain.Buy, decimal.NewFromInt(1)))
	require.True(t, ok)

	select {
	case e := <-sub:
		data := e.Data.(map[string]any)
		require.Equal(t, "o1", data["orderId"])
		require.Equal(t, true, data["passed"])
	case <-time.After(time.Second):
		t.Fatal("expected risk.check event")
	}
}
