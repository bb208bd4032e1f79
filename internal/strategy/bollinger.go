package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// Bollinger is a second user-provided custom strategy example: BUY when
// price breaks the lower band, SELL when it breaks the upper band.
type Bollinger struct {
	id     string
	symbol string

	period    int
	numStdDev float64

	prices     []float64
	prevAction domain.Side
	hasPrev    bool
}

// NewBollinger creates a Bollinger Bands breakout strategy instance.
func NewBollinger(id, symbol string, period int, numStdDev float64) *Bollinger {
	if period <= 0 {
		period = 20
	}
	if numStdDev <= 0 {
		numStdDev = 2.0
	}
	return &Bollinger{
		id:        id,
		symbol:    symbol,
		period:    period,
		numStdDev: numStdDev,
		prices:    make([]float64, 0, period),
	}
}

func (b *Bollinger) ID() string     { return b.id }
func (b *Bollinger) Symbol() string { return b.symbol }

func (b *Bollinger) OnTick(t domain.Tick) (*domain.Signal, error) {
	if t.Symbol != b.symbol {
		return nil, nil
	}
	mid, ok := t.Mid()
	if !ok {
		return nil, nil
	}
	price, _ := mid.Float64()

	b.prices = append(b.prices, price)
	if len(b.prices) > b.period {
		b.prices = b.prices[len(b.prices)-b.period:]
	}
	if len(b.prices) < b.period {
		return nil, nil
	}

	_, upper, lower := b.bands()

	var action domain.Side
	switch {
	case price <= lower:
		action = domain.Buy
	case price >= upper:
		action = domain.Sell
	default:
		return nil, nil
	}

	if b.hasPrev && b.prevAction == action {
		return nil, nil
	}
	b.hasPrev = true
	b.prevAction = action

	px := decimal.NewFromFloat(price)
	return &domain.Signal{StrategyID: b.id, Symbol: b.symbol, Action: action, Px: &px, T: t.T}, nil
}

func (b *Bollinger) bands() (middle, upper, lower float64) {
	sum := 0.0
	for _, p := range b.prices {
		sum += p
	}
	middle = sum / float64(len(b.prices))

	variance := 0.0
	for _, p := range b.prices {
		diff := p - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(b.prices)))

	upper = middle + b.numStdDev*stdDev
	lower = middle - b.numStdDev*stdDev
	return
}
