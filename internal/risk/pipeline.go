package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

// MarkPriceFunc resolves the current mark for symbol, used to evaluate
// market orders against the price band and notional cap.
type MarkPriceFunc func(symbol string) (decimal.Decimal, bool)

// PositionFunc resolves the signed position for symbol.
type PositionFunc func(symbol string) (pos decimal.Decimal, ok bool)

// BalanceFunc resolves the available balance for (venue, asset).
type BalanceFunc func(venue, asset string) (available decimal.Decimal, ok bool)

// AssetsFunc resolves the base/quote asset pair backing symbol, used by
// the quote/base reservation guard.
type AssetsFunc func(symbol string) (base, quote string, ok bool)

type reservation struct {
	venue  string
	asset  string
	amount decimal.Decimal
}

// Pipeline runs the ordered pre-trade filter chain over order intents
// (spec.md §4.6). A single Pipeline instance is shared across
// strategies; per-strategy Budgets override the base RiskConfig.
type Pipeline struct {
	bus *events.Bus
	clk clock.Clock

	base    domain.RiskConfig
	margin  MarginConfig
	venue   string

	markPrice MarkPriceFunc
	position  PositionFunc
	balance   BalanceFunc
	assets    AssetsFunc

	mu           sync.Mutex
	budgets      map[string]Budget
	throttleLog  map[string][]int64 // strategyID -> intent timestamps, ms
	reservations map[string]reservation // orderID -> reservation
}

// NewPipeline creates a risk pipeline. markPrice/position/balance/assets
// give the pipeline read access to live portfolio and account state
// without importing those packages directly.
func NewPipeline(bus *events.Bus, clk clock.Clock, base domain.RiskConfig, margin MarginConfig, venue string,
	markPrice MarkPriceFunc, position PositionFunc, balance BalanceFunc, assets AssetsFunc) *Pipeline {
	return &Pipeline{
		bus:          bus,
		clk:          clk,
		base:         base,
		margin:       margin,
		venue:        venue,
		markPrice:    markPrice,
		position:     position,
		balance:      balance,
		assets:       assets,
		budgets:      make(map[string]Budget),
		throttleLog:  make(map[string][]int64),
		reservations: make(map[string]reservation),
	}
}

// SetBudget registers a per-strategy override.
func (p *Pipeline) SetBudget(strategyID string, b Budget) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budgets[strategyID] = b
}

// Check runs order through every filter in order, stopping at (and
// tagging) the first rejection but accumulating every reason that would
// also have rejected it. It always emits a risk.check event.
func (p *Pipeline) Check(order domain.OrderIntent) (Approved, Rejected, bool) {
	refPx, havePx := p.referencePrice(order)
	if !havePx {
		return p.reject(order, ReasonPriceBand)
	}

	p.mu.Lock()
	budget := p.budgets[order.Meta.StrategyID]
	p.mu.Unlock()

	var reasons []Reason

	if band, ok := p.base.PriceBands[order.Symbol]; ok {
		if refPx.LessThan(band.Min) || refPx.GreaterThan(band.Max) {
			reasons = append(reasons, ReasonPriceBand)
		}
	}

	notional := order.Qty.Mul(refPx)
	notionalCap := budget.notional(p.base.Notional)
	if !notionalCap.IsZero() && notional.GreaterThan(notionalCap) {
		reasons = append(reasons, ReasonNotionalCap)
	}

	if maxPos := budget.maxPosition(p.base.MaxPosition); !maxPos.IsZero() {
		cur, _ := p.position(order.Symbol)
		resulting := cur.Add(order.Side.SignedQty(order.Qty))
		if resulting.Abs().GreaterThan(maxPos) {
			reasons = append(reasons, ReasonPositionCap)
		}
	}

	if p.base.Throttle.MaxCount > 0 && p.throttled(order.Meta.StrategyID) {
		reasons = append(reasons, ReasonThrottle)
	}

	if !p.margin.Enabled {
		if r, ok := p.checkReserve(order, notional); !ok {
			reasons = append(reasons, r)
		}
	} else if !p.checkMargin(order, notional) {
		reasons = append(reasons, ReasonMargin)
	}

	if len(reasons) > 0 {
		return p.reject(order, reasons...)
	}

	p.recordThrottle(order.Meta.StrategyID)
	p.reserve(order, notional)

	appr := Approved{Order: order, Notional: notional, RefPx: refPx}
	p.tap(order.ID, true, nil)
	return appr, Rejected{}, true
}

// Release frees a reservation when an order is rejected or cancelled
// without filling (spec.md §4.6: "reservations are released on
// reject/cancel, consumed on fill").
func (p *Pipeline) Release(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reservations, orderID)
}

func (p *Pipeline) referencePrice(order domain.OrderIntent) (decimal.Decimal, bool) {
	if order.Px != nil {
		return *order.Px, true
	}
	return p.markPrice(order.Symbol)
}

func (p *Pipeline) throttled(strategyID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.NowMs()
	windowStart := now - p.base.Throttle.WindowMs
	log := p.throttleLog[strategyID]
	kept := log[:0]
	for _, t := range log {
		if t >= windowStart {
			kept = append(kept, t)
		}
	}
	p.throttleLog[strategyID] = kept
	return len(kept) >= p.base.Throttle.MaxCount
}

func (p *Pipeline) recordThrottle(strategyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttleLog[strategyID] = append(p.throttleLog[strategyID], p.clk.NowMs())
}

func (p *Pipeline) checkReserve(order domain.OrderIntent, notional decimal.Decimal) (Reason, bool) {
	base, quote, ok := p.assets(order.Symbol)
	if !ok {
		return "", true // unknown instrument: nothing to reserve against
	}
	if order.Side == domain.Buy {
		avail, ok := p.balance(p.venue, quote)
		if !ok || avail.LessThan(notional) {
			return ReasonQuoteReserve, false
		}
		return "", true
	}
	avail, ok := p.balance(p.venue, base)
	if !ok || avail.LessThan(order.Qty) {
		return ReasonBaseReserve, false
	}
	return "", true
}

func (p *Pipeline) checkMargin(order domain.OrderIntent, notional decimal.Decimal) bool {
	collateral, ok := p.balance(p.venue, "COLLATERAL")
	if !ok {
		return false
	}
	p.mu.Lock()
	var committed decimal.Decimal
	for _, r := range p.reservations {
		committed = committed.Add(r.amount)
	}
	p.mu.Unlock()
	limit := collateral.Mul(p.margin.LeverageCap)
	return committed.Add(notional).LessThanOrEqual(limit)
}

func (p *Pipeline) reserve(order domain.OrderIntent, notional decimal.Decimal) {
	base, quote, ok := p.assets(order.Symbol)
	if !ok {
		return
	}
	asset, amount := quote, notional
	if order.Side == domain.Sell {
		asset, amount = base, order.Qty
	}
	p.mu.Lock()
	p.reservations[order.ID] = reservation{venue: p.venue, asset: asset, amount: amount}
	p.mu.Unlock()
}

func (p *Pipeline) reject(order domain.OrderIntent, reasons ...Reason) (Approved, Rejected, bool) {
	rej := Rejected{Order: order, Reasons: reasons}
	p.tap(order.ID, false, reasons)
	return Approved{}, rej, false
}

func (p *Pipeline) tap(orderID string, passed bool, reasons []Reason) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.DomainEvent{
		ID:   clock.NewID(),
		Type: events.TypeRiskCheck,
		Data: map[string]any{
			"orderId": orderID,
			"passed":  passed,
			"reasons": reasons,
		},
		Ts: p.clk.Now(),
	})
}
