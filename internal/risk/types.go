// Package risk is the Risk Pipeline (spec.md C10): an ordered chain of
// pre-trade filters applied to each order intent, producing either an
// approved order with its reference price and notional, or a rejection
// tagging every triggered reason.
package risk

import (
	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// Reason is a stable, machine-checkable rejection tag — used as a metric
// label, never a free-form message.
type Reason string

const (
	ReasonPriceBand    Reason = "price_band"
	ReasonNotionalCap  Reason = "notional_cap"
	ReasonPositionCap  Reason = "position_cap"
	ReasonThrottle     Reason = "throttle"
	ReasonQuoteReserve Reason = "quote_reserve"
	ReasonBaseReserve  Reason = "base_reserve"
	ReasonMargin       Reason = "margin"
	ReasonKillSwitch   Reason = "kill_switch"
)

// Approved is the output of a passed check: the (possibly unchanged)
// order plus the notional and reference price used to evaluate it.
type Approved struct {
	Order    domain.OrderIntent
	Notional decimal.Decimal
	RefPx    decimal.Decimal
}

// Rejected is the output of a failed check: the order plus every
// triggered reason (spec.md §4.6: "ties include every triggered reason
// but still reject on the first").
type Rejected struct {
	Order   domain.OrderIntent
	Reasons []Reason
}

// Budget is the per-strategy override of the base RiskConfig. A zero
// value for any field means "use the base config's value".
type Budget struct {
	Notional    decimal.Decimal
	MaxPosition decimal.Decimal
}

func (b Budget) notional(base decimal.Decimal) decimal.Decimal {
	if b.Notional.IsZero() {
		return base
	}
	return b.Notional
}

func (b Budget) maxPosition(base decimal.Decimal) decimal.Decimal {
	if b.MaxPosition.IsZero() {
		return base
	}
	return b.MaxPosition
}

// MarginConfig governs the margin/leverage guard for non-cash-spot
// accounting. Disabled (Enabled=false) accounts skip checks 5 and 6 in
// favor of the cash spot quote/base reservation guard only.
type MarginConfig struct {
	Enabled     bool
	LeverageCap decimal.Decimal
}
