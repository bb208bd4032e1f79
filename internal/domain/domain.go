// Package domain holds the shared data model (spec.md §3) that every
// pipeline stage passes along: ticks, signals, order intents, acks, fills,
// balances and snapshots. Kept dependency-free of any single component so
// feed, strategy, risk, execution and portfolio packages can all import it
// without a cycle.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SignedQty returns qty with sign applied for Buy (+) / Sell (-).
func (s Side) SignedQty(qty decimal.Decimal) decimal.Decimal {
	if s == Sell {
		return qty.Neg()
	}
	return qty
}

// OrderType is MKT or LMT.
type OrderType string

const (
	Market OrderType = "MKT"
	Limit  OrderType = "LMT"
)

// TIF is the order's time-in-force.
type TIF string

const (
	IOC TIF = "IOC"
	FOK TIF = "FOK"
	GTC TIF = "GTC"
	DAY TIF = "DAY"
)

// Liquidity records whether an intent/fill is expected to add or take
// liquidity, which drives fee-schedule lookups.
type Liquidity string

const (
	Maker Liquidity = "MAKER"
	Taker Liquidity = "TAKER"
)

// Tick is a single market-data observation from one venue for one symbol.
// Invariant: at least one of Bid/Ask/Last is non-nil; T is monotonic per
// (Venue, Symbol).
type Tick struct {
	T      int64 // epoch-ms
	Symbol string
	Venue  string
	Bid    *decimal.Decimal
	Ask    *decimal.Decimal
	Last   *decimal.Decimal
}

// Mid returns the mid of bid/ask when both are present, else falls back to
// Last, else the zero value and false.
func (t Tick) Mid() (decimal.Decimal, bool) {
	if t.Bid != nil && t.Ask != nil {
		return t.Bid.Add(*t.Ask).Div(decimal.NewFromInt(2)), true
	}
	if t.Last != nil {
		return *t.Last, true
	}
	return decimal.Zero, false
}

// Signal is emitted by a strategy run and consumed by the intent builder
// and the exit engine. Not persisted by default (spec.md §3).
type Signal struct {
	StrategyID string
	Symbol     string
	Action     Side
	Px         *decimal.Decimal
	T          int64
}

// IntentMeta carries the optional, non-identifying fields attached to an
// OrderIntent.
type IntentMeta struct {
	StrategyID      string
	Exit            bool
	Reason          string
	ExpectedFeeBps  decimal.Decimal
	FeeSource       string
	Liquidity       Liquidity
}

// OrderIntent (a.k.a. OrderNew) is a proposed order produced by a strategy
// or the exit engine, prior to risk approval. Immutable once created; ID is
// unique.
type OrderIntent struct {
	ID      string
	T       int64
	Symbol  string
	Side    Side
	Qty     decimal.Decimal
	Type    OrderType
	TIF     TIF
	Account string
	Px      *decimal.Decimal
	Meta    IntentMeta
}

// OrderAck confirms a venue accepted an OrderIntent.
type OrderAck struct {
	ID    string
	T     int64
	Venue string
}

// OrderReject reports a venue (or pre-trade risk check) rejection.
type OrderReject struct {
	ID     string
	T      int64
	Reason string
}

// OrderCancelEvent reports a cancel (forced or voluntary) of an order.
type OrderCancelEvent struct {
	ID     string
	T      int64
	Reason string
}

// Fill reports an execution against an OrderIntent.
type Fill struct {
	ID        string
	OrderID   string
	T         int64
	Symbol    string
	Px        decimal.Decimal
	Qty       decimal.Decimal
	Side      Side
	Fee       decimal.Decimal
	Liquidity Liquidity
}

// BalanceEntry is a per-(venue,asset) ledger line. Invariant: Total =
// Available + Locked; never negative for cash-spot accounting unless
// margin is explicitly enabled.
type BalanceEntry struct {
	Venue       string
	Asset       string
	Available   decimal.Decimal
	Locked      decimal.Decimal
	Total       decimal.Decimal
	LastUpdated time.Time
}

// PositionSnapshot is the per-symbol projection of fills into a live
// position. Invariant: flipping sign resets AvgPx to the triggering fill
// price; realized P&L accumulates only when a fill reduces |Pos|.
type PositionSnapshot struct {
	Symbol        string
	Pos           decimal.Decimal // signed qty
	AvgPx         decimal.Decimal
	Px            decimal.Decimal // mark
	Unrealized    decimal.Decimal
	NetRealized   decimal.Decimal
	GrossRealized decimal.Decimal
	Notional      decimal.Decimal
	T             int64
}

// PortfolioSnapshot is the throttled, emitted projection of the whole book.
type PortfolioSnapshot struct {
	T         int64
	Positions map[string]PositionSnapshot
	Nav       decimal.Decimal
	Pnl       decimal.Decimal
	Realized  decimal.Decimal
	Unrealized decimal.Decimal
	Cash      decimal.Decimal
	FeesPaid  decimal.Decimal
}

// PortfolioAnalytics augments a PortfolioSnapshot with drawdown tracking.
type PortfolioAnalytics struct {
	PortfolioSnapshot
	PeakNav       decimal.Decimal
	Drawdown      decimal.Decimal
	DrawdownPct   decimal.Decimal
	BySymbol      map[string]PositionSnapshot
}

// FeeSchedule describes maker/taker fee tiers for a venue. Symbol "*" is
// the wildcard fallback used when no symbol-specific row exists.
type FeeSchedule struct {
	Venue         string
	Symbol        string // "*" for wildcard
	ProductType   string
	MakerBps      decimal.Decimal
	TakerBps      decimal.Decimal
	EffectiveFrom time.Time
	Source        string
}

// PriceBand bounds acceptable order prices for a symbol.
type PriceBand struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Throttle bounds intent rate per rolling window.
type Throttle struct {
	WindowMs int64
	MaxCount int
}

// RiskConfig is the base, strategy-overridable risk configuration
// (spec.md §3).
type RiskConfig struct {
	Notional    decimal.Decimal
	MaxPosition decimal.Decimal
	PriceBands  map[string]PriceBand
	Throttle    Throttle
}
