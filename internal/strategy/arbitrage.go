package strategy

import (
	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

var bps10k = decimal.NewFromInt(10000)

// Arbitrage watches a primary and a secondary venue for the same symbol
// and signals BUY-on-primary when the secondary's bid clears the
// primary's ask by at least minEdgeBps, or SELL-on-primary on the mirror
// condition (spec.md §4.5, §8 scenario 1: "primary vs secondary venue with
// spread in bps").
type Arbitrage struct {
	id            string
	symbol        string
	primaryVenue  string
	secondaryVenue string
	minEdgeBps    decimal.Decimal

	primary   *domain.Tick
	secondary *domain.Tick
}

// NewArbitrage creates an arbitrage strategy instance.
func NewArbitrage(id, symbol, primaryVenue, secondaryVenue string, minEdgeBps decimal.Decimal) *Arbitrage {
	return &Arbitrage{
		id:             id,
		symbol:         symbol,
		primaryVenue:   primaryVenue,
		secondaryVenue: secondaryVenue,
		minEdgeBps:     minEdgeBps,
	}
}

func (a *Arbitrage) ID() string     { return a.id }
func (a *Arbitrage) Symbol() string { return a.symbol }

func (a *Arbitrage) OnTick(t domain.Tick) (*domain.Signal, error) {
	if t.Symbol != a.symbol {
		return nil, nil
	}
	switch t.Venue {
	case a.primaryVenue:
		tick := t
		a.primary = &tick
	case a.secondaryVenue:
		tick := t
		a.secondary = &tick
	default:
		return nil, nil
	}
	if a.primary == nil || a.secondary == nil {
		return nil, nil
	}
	if a.primary.Ask == nil || a.primary.Bid == nil || a.secondary.Ask == nil || a.secondary.Bid == nil {
		return nil, nil
	}

	// Secondary bid clears primary ask: buy on primary, (conceptually)
	// sell on secondary.
	if edgeBps(a.secondary.Bid, a.primary.Ask).GreaterThanOrEqual(a.minEdgeBps) {
		return &domain.Signal{StrategyID: a.id, Symbol: a.symbol, Action: domain.Buy, Px: a.primary.Ask, T: t.T}, nil
	}
	// Primary bid clears secondary ask: sell on primary.
	if edgeBps(a.primary.Bid, a.secondary.Ask).GreaterThanOrEqual(a.minEdgeBps) {
		return &domain.Signal{StrategyID: a.id, Symbol: a.symbol, Action: domain.Sell, Px: a.primary.Bid, T: t.T}, nil
	}
	return nil, nil
}

// edgeBps returns (high - low) / low in bps.
func edgeBps(high, low *decimal.Decimal) decimal.Decimal {
	if low.IsZero() {
		return decimal.Zero
	}
	return high.Sub(*low).Div(*low).Mul(bps10k)
}
