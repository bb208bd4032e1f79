// Package intent is the Intent Builder (spec.md C9): it turns a strategy
// Signal into a quantized, policy-governed OrderIntent, suppressing
// repeats within a cooldown window and deduplicating identical orders
// within a dedupe window.
package intent

import (
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/instruments"
)

// Mode selects how the builder prices an intent.
type Mode string

const (
	ModeMarket        Mode = "market"
	ModeMakerPreferred Mode = "makerPreferred"
	ModeTaker          Mode = "taker"
)

// Policy governs how a Signal becomes an OrderIntent (spec.md §4.5).
type Policy struct {
	Mode           Mode
	NotionalUsd    decimal.Decimal
	LimitOffsetBps decimal.Decimal
	MinEdgeBps     decimal.Decimal
	PostOnly       bool
	TIF            domain.TIF
	CooldownMs     int64
	DedupeWindowMs int64
	Account        string
}

// DefaultPolicy returns a conservative market-order policy.
func DefaultPolicy() Policy {
	return Policy{
		Mode:           ModeMarket,
		NotionalUsd:    decimal.NewFromInt(100),
		TIF:            domain.IOC,
		CooldownMs:     1000,
		DedupeWindowMs: 2000,
	}
}

type lastIntent struct {
	t      int64
	side   domain.Side
	px     decimal.Decimal
	qty    decimal.Decimal
}

// Builder converts signals to order intents for one strategy's book of
// symbols, applying Policy, instrument quantization, and fee hints.
type Builder struct {
	clk         clock.Clock
	instruments *instruments.Repository
	venue       string

	mu    sync.Mutex
	last  map[string]lastIntent // key: strategyID + "|" + symbol
}

// NewBuilder creates an intent builder for venue, using repo for
// tick/lot quantization and fee lookups.
func NewBuilder(clk clock.Clock, repo *instruments.Repository, venue string) *Builder {
	return &Builder{
		clk:         clk,
		instruments: repo,
		venue:       venue,
		last:        make(map[string]lastIntent),
	}
}

// Build converts sig into an OrderIntent under policy, or returns
// ok=false when the signal is suppressed by cooldown/dedupe or lacks a
// usable reference price.
func (b *Builder) Build(sig domain.Signal, policy Policy) (domain.OrderIntent, bool) {
	refPx, ok := b.referencePrice(sig, policy)
	if !ok {
		return domain.OrderIntent{}, false
	}

	px := b.instruments.QuantizePrice(sig.Symbol, refPx)
	if px.IsZero() {
		return domain.OrderIntent{}, false
	}
	qty := b.instruments.QuantizeQty(sig.Symbol, policy.NotionalUsd.Div(px))
	if qty.LessThanOrEqual(decimal.Zero) {
		return domain.OrderIntent{}, false
	}

	key := sig.StrategyID + "|" + sig.Symbol
	now := b.clk.NowMs()

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.last[key]; ok {
		if policy.CooldownMs > 0 && now-prev.t < policy.CooldownMs {
			return domain.OrderIntent{}, false
		}
		if policy.DedupeWindowMs > 0 && now-prev.t < policy.DedupeWindowMs &&
			prev.side == sig.Action && prev.px.Equal(px) && prev.qty.Equal(qty) {
			return domain.OrderIntent{}, false
		}
	}

	liquidity := domain.Taker
	orderType := domain.Market
	if policy.Mode == ModeMakerPreferred {
		liquidity = domain.Maker
		orderType = domain.Limit
	}

	feeBps, feeSource, _ := b.instruments.FeeBps(b.venue, sig.Symbol, liquidity)

	oi := domain.OrderIntent{
		ID:      clock.NewID(),
		T:       now,
		Symbol:  sig.Symbol,
		Side:    sig.Action,
		Qty:     qty,
		Type:    orderType,
		TIF:     policy.TIF,
		Account: policy.Account,
		Meta: domain.IntentMeta{
			StrategyID:     sig.StrategyID,
			ExpectedFeeBps: feeBps,
			FeeSource:      feeSource,
			Liquidity:      liquidity,
		},
	}
	if orderType == domain.Limit {
		oi.Px = &px
	}

	b.last[key] = lastIntent{t: now, side: sig.Action, px: px, qty: qty}
	return oi, true
}

// referencePrice derives the intent's reference price from the signal
// and policy: market mode defers to venue-side pricing (nil Px signals a
// market order priced at submission time); limit modes require the
// signal to carry a price and apply LimitOffsetBps away from it.
func (b *Builder) referencePrice(sig domain.Signal, policy Policy) (decimal.Decimal, bool) {
	if sig.Px == nil {
		return decimal.Zero, false
	}
	px := *sig.Px
	if policy.Mode == ModeMarket {
		return px, true
	}

	offset := px.Mul(policy.LimitOffsetBps).Div(decimal.NewFromInt(10000))
	if sig.Action == domain.Buy {
		return px.Sub(offset), true
	}
	return px.Add(offset), true
}

// Forget clears cooldown/dedupe history for (strategyID, symbol), used
// when a strategy is stopped and later re-added.
func (b *Builder) Forget(strategyID, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, strategyID+"|"+symbol)
}
