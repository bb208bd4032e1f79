package strategy

import (
	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// Momentum is the fast/slow-window crossover family named in spec.md §4.5.
// BUY when the fast window average crosses above the slow; SELL on the
// reverse cross. Adapted from the teacher's MACrossStrategy, generalized
// from a single symbol/price feed to domain.Tick and deduped against the
// previous emitted side.
type Momentum struct {
	id     string
	symbol string

	fastPeriod int
	slowPeriod int

	prices     []float64
	prevAction domain.Side
	hasPrev    bool
}

// NewMomentum creates a momentum strategy instance for symbol.
func NewMomentum(id, symbol string, fastPeriod, slowPeriod int) *Momentum {
	if fastPeriod <= 0 {
		fastPeriod = 5
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &Momentum{
		id:         id,
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		prices:     make([]float64, 0, slowPeriod),
	}
}

func (m *Momentum) ID() string     { return m.id }
func (m *Momentum) Symbol() string { return m.symbol }

func (m *Momentum) OnTick(t domain.Tick) (*domain.Signal, error) {
	if t.Symbol != m.symbol {
		return nil, nil
	}
	mid, ok := t.Mid()
	if !ok {
		return nil, nil
	}
	price, _ := mid.Float64()

	m.prices = append(m.prices, price)
	if len(m.prices) > m.slowPeriod {
		m.prices = m.prices[len(m.prices)-m.slowPeriod:]
	}
	if len(m.prices) < m.slowPeriod {
		return nil, nil
	}

	fastMA := mean(m.prices[len(m.prices)-m.fastPeriod:])
	slowMA := mean(m.prices)

	var action domain.Side
	switch {
	case fastMA > slowMA:
		action = domain.Buy
	case fastMA < slowMA:
		action = domain.Sell
	default:
		return nil, nil
	}

	if m.hasPrev && m.prevAction == action {
		return nil, nil // no repeat signal until the cross reverses
	}
	m.hasPrev = true
	m.prevAction = action

	px := decimal.NewFromFloat(price)
	return &domain.Signal{StrategyID: m.id, Symbol: m.symbol, Action: action, Px: &px, T: t.T}, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
