// Package portfolio is Portfolio Projection (spec.md C17): it folds
// fills against a live mark stream into per-symbol position snapshots
// plus a book-wide NAV/drawdown snapshot, throttled to at most one
// emission per persistThrottleMs. Cash moves only with SeedCash and
// fills; account.balance.adjusted events (deposits, withdrawals) are
// received but not folded into cash.
package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/pkg/metrics"
)

// Book is the live projection of positions, cash, and NAV.
type Book struct {
	bus *events.Bus
	clk clock.Clock

	persistThrottle time.Duration

	mu        sync.RWMutex
	positions map[string]domain.PositionSnapshot
	marks     map[string]decimal.Decimal
	cash      decimal.Decimal
	feesPaid  decimal.Decimal
	peakNav   decimal.Decimal

	lastEmit int64

	subTick   <-chan events.DomainEvent
	subFill   <-chan events.DomainEvent
	subAdjust <-chan events.DomainEvent
	unsubs    []func()
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBook creates an empty portfolio projection. persistThrottle bounds
// snapshot emission frequency (default 250ms per spec.md §4.11 when
// zero).
func NewBook(bus *events.Bus, clk clock.Clock, persistThrottle time.Duration) *Book {
	if persistThrottle <= 0 {
		persistThrottle = 250 * time.Millisecond
	}
	return &Book{
		bus:             bus,
		clk:             clk,
		persistThrottle: persistThrottle,
		positions:       make(map[string]domain.PositionSnapshot),
		marks:           make(map[string]decimal.Decimal),
	}
}

// SeedCash sets the starting cash balance before Start is called.
func (b *Book) SeedCash(amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = amount
}

// Start subscribes to market ticks (for marks), fills, and balance
// adjustments; adjustments are drained without changing cash.
func (b *Book) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	var unsub func()
	b.subTick, unsub = b.bus.Subscribe(events.TypeMarketTick, 4096)
	b.unsubs = append(b.unsubs, unsub)
	b.subFill, unsub = b.bus.Subscribe(events.TypeOrderFill, 4096)
	b.unsubs = append(b.unsubs, unsub)
	b.subAdjust, unsub = b.bus.Subscribe(events.TypeAccountBalanceAdjust, 4096)
	b.unsubs = append(b.unsubs, unsub)

	go func() {
		defer close(b.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-b.subTick:
				if !ok {
					return
				}
				b.onTick(e)
			case e, ok := <-b.subFill:
				if !ok {
					return
				}
				b.onFill(e)
			case <-b.subAdjust:
				// Fill-driven adjustments are already reflected via onFill;
				// non-fill adjustments (deposits/withdrawals) are folded by
				// account.State, not duplicated here.
			}
		}
	}()
}

func (b *Book) onTick(e events.DomainEvent) {
	t, ok := e.Data.(domain.Tick)
	if !ok {
		return
	}
	mid, ok := t.Mid()
	if !ok {
		return
	}
	b.mu.Lock()
	b.marks[t.Symbol] = mid
	b.mu.Unlock()
	b.maybeEmit()
}

func (b *Book) onFill(e events.DomainEvent) {
	f, ok := e.Data.(domain.Fill)
	if !ok {
		return
	}
	b.mu.Lock()
	pos := b.positions[f.Symbol]
	pos.Symbol = f.Symbol

	signedQty := f.Side.SignedQty(f.Qty)
	prevPos := pos.Pos

	switch {
	case prevPos.IsZero() || sameSign(prevPos, signedQty):
		// Opening or adding in the same direction: weighted-average price.
		totalQty := prevPos.Abs().Add(signedQty.Abs())
		if totalQty.IsZero() {
			pos.AvgPx = f.Px
		} else {
			pos.AvgPx = pos.AvgPx.Mul(prevPos.Abs()).Add(f.Px.Mul(signedQty.Abs())).Div(totalQty)
		}
		pos.Pos = prevPos.Add(signedQty)
	case signedQty.Abs().LessThanOrEqual(prevPos.Abs()):
		// Reducing without flipping.
		closedQty := signedQty.Abs()
		realized := closedQty.Mul(f.Px.Sub(pos.AvgPx)).Mul(sign(prevPos))
		pos.NetRealized = pos.NetRealized.Add(realized).Sub(f.Fee)
		pos.GrossRealized = pos.GrossRealized.Add(realized)
		pos.Pos = prevPos.Add(signedQty)
	default:
		// Flip: realize the close portion against the full prior position,
		// then open the residual at the fill price.
		realized := prevPos.Abs().Mul(f.Px.Sub(pos.AvgPx)).Mul(sign(prevPos))
		pos.NetRealized = pos.NetRealized.Add(realized).Sub(f.Fee)
		pos.GrossRealized = pos.GrossRealized.Add(realized)
		pos.Pos = prevPos.Add(signedQty)
		pos.AvgPx = f.Px
	}

	b.cash = b.cash.Sub(signedQty.Mul(f.Px)).Sub(f.Fee)
	b.feesPaid = b.feesPaid.Add(f.Fee)
	pos.T = b.clk.NowMs()
	b.positions[f.Symbol] = pos
	b.mu.Unlock()

	b.maybeEmit()
}

func sign(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsNegative() && b.IsNegative()) || (!a.IsNegative() && !b.IsNegative())
}

// Snapshot computes the current PortfolioSnapshot (marks applied, NAV
// and unrealized recomputed). Safe to call concurrently.
func (b *Book) Snapshot() domain.PortfolioSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Book) snapshotLocked() domain.PortfolioSnapshot {
	positions := make(map[string]domain.PositionSnapshot, len(b.positions))
	var unrealized, realized decimal.Decimal

	for sym, pos := range b.positions {
		mark, ok := b.marks[sym]
		if !ok {
			mark = pos.AvgPx
		}
		pos.Px = mark
		pos.Unrealized = mark.Sub(pos.AvgPx).Mul(pos.Pos)
		pos.Notional = pos.Pos.Abs().Mul(mark)
		positions[sym] = pos
		unrealized = unrealized.Add(pos.Unrealized)
		realized = realized.Add(pos.NetRealized)
	}

	nav := b.navFromPositions(positions)

	return domain.PortfolioSnapshot{
		T:          b.clk.NowMs(),
		Positions:  positions,
		Nav:        nav,
		Pnl:        realized.Add(unrealized),
		Realized:   realized,
		Unrealized: unrealized,
		Cash:       b.cash,
		FeesPaid:   b.feesPaid,
	}
}

func (b *Book) navFromPositions(positions map[string]domain.PositionSnapshot) decimal.Decimal {
	nav := b.cash
	for _, pos := range positions {
		nav = nav.Add(pos.Pos.Mul(pos.Px))
	}
	return nav
}

// Analytics wraps Snapshot with peak-NAV/drawdown tracking.
func (b *Book) Analytics() domain.PortfolioAnalytics {
	b.mu.Lock()
	snap := b.snapshotLocked()
	if snap.Nav.GreaterThan(b.peakNav) {
		b.peakNav = snap.Nav
	}
	peak := b.peakNav
	b.mu.Unlock()

	drawdown := peak.Sub(snap.Nav)
	var drawdownPct decimal.Decimal
	if peak.GreaterThan(decimal.Zero) {
		drawdownPct = drawdown.Div(peak)
	}

	return domain.PortfolioAnalytics{
		PortfolioSnapshot: snap,
		PeakNav:           peak,
		Drawdown:          drawdown,
		DrawdownPct:       drawdownPct,
		BySymbol:          snap.Positions,
	}
}

// Position returns the current signed position for symbol (risk.PositionFunc).
func (b *Book) Position(symbol string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	return pos.Pos, ok
}

// MarkPrice returns the current mark for symbol (risk.MarkPriceFunc).
func (b *Book) MarkPrice(symbol string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	px, ok := b.marks[symbol]
	return px, ok
}

func (b *Book) maybeEmit() {
	now := b.clk.NowMs()
	b.mu.Lock()
	if now-b.lastEmit < b.persistThrottle.Milliseconds() {
		b.mu.Unlock()
		return
	}
	b.lastEmit = now
	b.mu.Unlock()

	snap := b.Snapshot()
	metrics.PortfolioNav.Set(navFloat(snap.Nav))
	b.bus.Publish(events.DomainEvent{
		ID:   clock.NewID(),
		Type: events.TypePortfolioSnapshot,
		Data: snap,
		Ts:   b.clk.Now(),
	})
}

func navFloat(nav decimal.Decimal) float64 {
	f, _ := nav.Float64()
	return f
}

// Close stops the projection's subscriptions.
func (b *Book) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}
