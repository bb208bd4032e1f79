package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// RSI is an example of a user-provided custom strategy type decoding its
// own parameter block (period, oversold/overbought thresholds) outside the
// two named built-in families (spec.md §4.5).
type RSI struct {
	id     string
	symbol string

	period     int
	oversold   float64
	overbought float64

	prices     []float64
	prevAction domain.Side
	hasPrev    bool
}

// NewRSI creates an RSI overbought/oversold strategy instance.
func NewRSI(id, symbol string, period int, oversold, overbought float64) *RSI {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= 0 {
		overbought = 70
	}
	return &RSI{
		id:         id,
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prices:     make([]float64, 0, period+1),
	}
}

func (r *RSI) ID() string     { return r.id }
func (r *RSI) Symbol() string { return r.symbol }

func (r *RSI) OnTick(t domain.Tick) (*domain.Signal, error) {
	if t.Symbol != r.symbol {
		return nil, nil
	}
	mid, ok := t.Mid()
	if !ok {
		return nil, nil
	}
	price, _ := mid.Float64()

	r.prices = append(r.prices, price)
	if len(r.prices) > r.period+1 {
		r.prices = r.prices[len(r.prices)-(r.period+1):]
	}
	if len(r.prices) < r.period+1 {
		return nil, nil
	}

	rsi := computeRSI(r.prices, r.period)

	var action domain.Side
	switch {
	case rsi < r.oversold:
		action = domain.Buy
	case rsi > r.overbought:
		action = domain.Sell
	default:
		return nil, nil
	}

	if r.hasPrev && r.prevAction == action {
		return nil, nil
	}
	r.hasPrev = true
	r.prevAction = action

	px := decimal.NewFromFloat(price)
	return &domain.Signal{StrategyID: r.id, Symbol: r.symbol, Action: action, Px: &px, T: t.T}, nil
}

func computeRSI(prices []float64, period int) float64 {
	var gainSum, lossSum float64
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
