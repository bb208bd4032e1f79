package exit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestEngine_NoExitWhenFlat(t *testing.T) {
	e := NewEngine(Config{MaxHoldMs: 1000})
	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: decimal.Zero, Mark: d("100")})
	assert.False(t, ok)
}

func TestEngine_TimeStop(t *testing.T) {
	e := NewEngine(Config{MinHoldMs: 100, MaxHoldMs: 1000})

	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 0})
	require.False(t, ok)

	intent, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("101"), NowMs: 1500})
	require.True(t, ok)
	assert.Equal(t, domain.Sell, intent.Side)
	assert.Equal(t, domain.Market, intent.Type)
	assert.Equal(t, domain.IOC, intent.TIF)
	assert.True(t, intent.Qty.Equal(d("1")))
	assert.Contains(t, intent.Meta.Reason, string(ReasonTime))
}

func TestEngine_SameReasonSuppressedUntilReset(t *testing.T) {
	e := NewEngine(Config{MinHoldMs: 0, MaxHoldMs: 100})

	_, ok := e.Evaluate("s1", Inputs{Symbol: "ETHUSDT", Pos: d("2"), AvgPx: d("10"), Mark: d("10"), NowMs: 0})
	require.False(t, ok)

	_, ok = e.Evaluate("s1", Inputs{Symbol: "ETHUSDT", Pos: d("2"), AvgPx: d("10"), Mark: d("10"), NowMs: 200})
	require.True(t, ok)

	// Still past the deadline on the next tick; same reason must not re-fire.
	_, ok = e.Evaluate("s1", Inputs{Symbol: "ETHUSDT", Pos: d("2"), AvgPx: d("10"), Mark: d("10"), NowMs: 250})
	assert.False(t, ok)
}

func TestEngine_RiskSymbolExposureOverridesTimeStop(t *testing.T) {
	e := NewEngine(Config{
		MaxSymbolExposureUsd: d("1000"),
		MinHoldMs:            0,
		MaxHoldMs:            5,
	})

	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 0})
	require.False(t, ok)

	intent, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("20"), AvgPx: d("100"), Mark: d("100"), NowMs: 10})
	require.True(t, ok)
	assert.Contains(t, intent.Meta.Reason, string(ReasonRiskSymbol))
}

func TestEngine_FairValueOnSignalConvergence(t *testing.T) {
	e := NewEngine(Config{EpsilonBps: d("5"), MaxHoldMs: 1_000_000})

	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 0})
	require.False(t, ok)

	px := d("100.001")
	sig := &domain.Signal{StrategyID: "s1", Symbol: "BTCUSDT", Action: domain.Buy, Px: &px}
	intent, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 10, Signal: sig})
	require.True(t, ok)
	assert.Contains(t, intent.Meta.Reason, string(ReasonFairValue))
}

func TestEngine_SignalFlipExits(t *testing.T) {
	e := NewEngine(Config{MaxHoldMs: 1_000_000})
	sig1 := &domain.Signal{StrategyID: "s1", Symbol: "BTCUSDT", Action: domain.Buy}

	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 0, Signal: sig1})
	require.False(t, ok)

	sig2 := &domain.Signal{StrategyID: "s1", Symbol: "BTCUSDT", Action: domain.Sell}
	intent, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 10, Signal: sig2})
	require.True(t, ok)
	assert.Contains(t, intent.Meta.Reason, string(ReasonSignalFlip))
}

func TestEngine_ResetsOnFlat(t *testing.T) {
	e := NewEngine(Config{MinHoldMs: 0, MaxHoldMs: 100})

	_, ok := e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 0})
	require.False(t, ok)
	_, ok = e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: decimal.Zero, Mark: d("100"), NowMs: 50})
	require.False(t, ok)

	// Fresh cycle: no exit due immediately after re-opening.
	_, ok = e.Evaluate("s1", Inputs{Symbol: "BTCUSDT", Pos: d("1"), AvgPx: d("100"), Mark: d("100"), NowMs: 60})
	assert.False(t, ok)
}
