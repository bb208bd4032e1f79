// Package instruments is the market-structure repository (spec.md C6):
// trading-pair metadata (tick size, lot size) and fee schedules, with
// specific-symbol-over-wildcard fallback lookup.
package instruments

import (
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// Spec is the per-symbol tick/lot metadata used to quantize order prices
// and quantities before they reach risk and execution.
type Spec struct {
	Symbol   string
	Base     string
	Quote    string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
}

// Repository holds instrument specs and fee schedules, keyed for the
// specific-then-wildcard lookup spec.md §3 describes.
type Repository struct {
	mu    sync.RWMutex
	specs map[string]Spec
	// fees[venue] is ordered most-specific first; "*" rows are wildcard.
	fees map[string][]domain.FeeSchedule
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		specs: make(map[string]Spec),
		fees:  make(map[string][]domain.FeeSchedule),
	}
}

// PutSpec registers (or replaces) the tick/lot metadata for a symbol.
func (r *Repository) PutSpec(s Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Symbol] = s
}

// Spec returns the metadata for symbol, ok=false if unknown.
func (r *Repository) Spec(symbol string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[symbol]
	return s, ok
}

// PutFeeSchedule registers a fee schedule row. Symbol "*" is the venue
// wildcard.
func (r *Repository) PutFeeSchedule(fs domain.FeeSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fees[fs.Venue] = append(r.fees[fs.Venue], fs)
}

// Assets resolves the base/quote asset pair backing symbol, ok=false if
// the symbol has no registered spec. Satisfies risk.AssetsFunc and
// account.AssetsFunc.
func (r *Repository) Assets(symbol string) (base, quote string, ok bool) {
	spec, ok := r.Spec(symbol)
	if !ok || spec.Base == "" || spec.Quote == "" {
		return "", "", false
	}
	return spec.Base, spec.Quote, true
}

// FeeBps looks up the maker/taker fee (in bps) for (venue, symbol),
// falling back from the specific symbol to the venue's "*" wildcard row
// (spec.md §3). ok=false if neither exists.
func (r *Repository) FeeBps(venue, symbol string, liquidity domain.Liquidity) (bps decimal.Decimal, source string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specific, wildcard *domain.FeeSchedule
	for i := range r.fees[venue] {
		fs := &r.fees[venue][i]
		if fs.Symbol == symbol {
			specific = fs
		} else if fs.Symbol == "*" {
			wildcard = fs
		}
	}

	chosen := specific
	if chosen == nil {
		chosen = wildcard
	}
	if chosen == nil {
		return decimal.Zero, "", false
	}
	if liquidity == domain.Maker {
		return chosen.MakerBps, chosen.Source, true
	}
	return chosen.TakerBps, chosen.Source, true
}

// QuantizePrice rounds px down to the nearest TickSize multiple for symbol.
// Unknown symbols pass px through unchanged.
func (r *Repository) QuantizePrice(symbol string, px decimal.Decimal) decimal.Decimal {
	spec, ok := r.Spec(symbol)
	if !ok || spec.TickSize.IsZero() {
		return px
	}
	return floorToStep(px, spec.TickSize)
}

// QuantizeQty floors qty down to the nearest LotSize multiple for symbol,
// for both buy and sell sides (spec.md §4.5: "floor for buys, floor for
// sells"). Unknown symbols pass qty through unchanged.
func (r *Repository) QuantizeQty(symbol string, qty decimal.Decimal) decimal.Decimal {
	spec, ok := r.Spec(symbol)
	if !ok || spec.LotSize.IsZero() {
		return qty
	}
	return floorToStep(qty, spec.LotSize)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}
