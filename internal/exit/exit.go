// Package exit is the Exit Engine (spec.md C18): per enabled strategy it
// watches position, price, the strategy's own signal stream, and
// portfolio analytics, and emits at most one exit OrderIntent per
// pending reason until the position cycle resets. Grounded on the
// teacher's risk.StopLossManager trailing-stop/high-water-mark logic,
// generalized to the full priority-ordered reason chain.
package exit

import (
	"math"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// Reason is the exit trigger tag, in evaluation priority order (spec.md
// §4.12: first match wins).
type Reason string

const (
	ReasonRiskSymbol   Reason = "EXIT_RISK_SYMBOL"
	ReasonRiskGross    Reason = "EXIT_RISK_GROSS"
	ReasonRiskDrawdown Reason = "EXIT_RISK_DRAWDOWN"
	ReasonRiskMargin   Reason = "EXIT_RISK_MARGIN"
	ReasonTime         Reason = "EXIT_TIME"
	ReasonSignalFlip   Reason = "EXIT_SIGNAL_FLIP"
	ReasonFairValue    Reason = "EXIT_FAIR_VALUE"
	ReasonTakeProfit   Reason = "EXIT_TP"
	ReasonStopLoss     Reason = "EXIT_SL"
	ReasonTrailing     Reason = "EXIT_TRAILING"
)

// Action selects how an exit is carried out.
type Action string

const (
	ActionCloseSymbol Action = "CLOSE_SYMBOL"
	ActionFlattenAll  Action = "FLATTEN_ALL"
)

// Config is one strategy's exit policy.
type Config struct {
	MaxSymbolExposureUsd decimal.Decimal
	MaxGrossExposureUsd  decimal.Decimal
	MaxDrawdownPct       decimal.Decimal
	MarginBufferPct      decimal.Decimal

	MinHoldMs int64
	MaxHoldMs int64

	EpsilonBps decimal.Decimal

	SigmaLookback int // sample count for rolling sigma of log returns
	TPSigma       decimal.Decimal
	SLSigma       decimal.Decimal

	InitArmPnLSigma decimal.Decimal
	RetracePct      decimal.Decimal
}

// cycleState is {Flat -> Open -> Exiting} per symbol (spec.md §4.12).
type cycleState int

const (
	flat cycleState = iota
	open
	exiting
)

type positionCycle struct {
	state     cycleState
	entryTime int64
	dir       domain.Side
	avgPx     decimal.Decimal
	pending   Reason
	fired     map[Reason]bool // reasons already emitted this cycle

	returns   []float64 // rolling log returns for sigma
	lastPx    decimal.Decimal
	peakPx    decimal.Decimal // favorable extreme since arming
	troughPx  decimal.Decimal
	armed     bool
	lastSig   *domain.Signal
}

// Inputs bundles the external state the engine consults at evaluation
// time; callers supply fresh values for every Evaluate call.
type Inputs struct {
	Symbol      string
	Pos         decimal.Decimal
	AvgPx       decimal.Decimal
	Mark        decimal.Decimal
	NowMs       int64
	Signal      *domain.Signal
	GrossUsd    decimal.Decimal
	DrawdownPct decimal.Decimal
	MarginLeft  decimal.Decimal // remaining margin buffer as a fraction of collateral
}

// Engine evaluates exit conditions per (strategy, symbol).
type Engine struct {
	cfg    Config
	cycles map[string]*positionCycle // key: strategyID|symbol
}

// NewEngine creates an exit engine for one strategy's config.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, cycles: make(map[string]*positionCycle)}
}

func key(strategyID, symbol string) string { return strategyID + "|" + symbol }

// Evaluate runs the priority-ordered reason chain for one (strategy,
// symbol) and returns an exit OrderIntent if a new reason fires. Returns
// ok=false when no exit is due, or that reason already fired in this
// position cycle.
func (e *Engine) Evaluate(strategyID string, in Inputs) (domain.OrderIntent, bool) {
	k := key(strategyID, in.Symbol)
	c, ok := e.cycles[k]
	if !ok {
		c = &positionCycle{}
		e.cycles[k] = c
	}

	if in.Pos.IsZero() {
		*c = positionCycle{}
		return domain.OrderIntent{}, false
	}

	if c.state == flat {
		c.state = open
		c.entryTime = in.NowMs
		c.avgPx = in.AvgPx
		c.dir = domain.Buy
		if in.Pos.IsNegative() {
			c.dir = domain.Sell
		}
		c.peakPx, c.troughPx = in.Mark, in.Mark
	}

	e.updateSigma(c, in.Mark)

	reason, action, ok := e.check(c, in)
	if !ok {
		return domain.OrderIntent{}, false
	}
	if c.fired[reason] {
		return domain.OrderIntent{}, false
	}

	c.state = exiting
	c.pending = reason
	if c.fired == nil {
		c.fired = make(map[Reason]bool)
	}
	c.fired[reason] = true

	closeSide := domain.Sell
	if in.Pos.IsNegative() {
		closeSide = domain.Buy
	}

	return domain.OrderIntent{
		T:      in.NowMs,
		Symbol: in.Symbol,
		Side:   closeSide,
		Qty:    in.Pos.Abs(),
		Type:   domain.Market,
		TIF:    domain.IOC,
		Meta: domain.IntentMeta{
			StrategyID: strategyID,
			Exit:       true,
			Reason:     string(reason) + ":" + string(action),
		},
	}, true
}

func (e *Engine) check(c *positionCycle, in Inputs) (Reason, Action, bool) {
	if !e.cfg.MaxSymbolExposureUsd.IsZero() && in.Pos.Abs().Mul(in.Mark).GreaterThan(e.cfg.MaxSymbolExposureUsd) {
		return ReasonRiskSymbol, ActionCloseSymbol, true
	}
	if !e.cfg.MaxGrossExposureUsd.IsZero() && in.GrossUsd.GreaterThan(e.cfg.MaxGrossExposureUsd) {
		return ReasonRiskGross, ActionFlattenAll, true
	}
	if !e.cfg.MaxDrawdownPct.IsZero() && in.DrawdownPct.Abs().GreaterThan(e.cfg.MaxDrawdownPct) {
		return ReasonRiskDrawdown, ActionFlattenAll, true
	}
	if !e.cfg.MarginBufferPct.IsZero() && in.MarginLeft.LessThan(e.cfg.MarginBufferPct) {
		return ReasonRiskMargin, ActionFlattenAll, true
	}

	held := in.NowMs - c.entryTime
	if held >= e.cfg.MinHoldMs && e.cfg.MaxHoldMs > 0 && held >= e.cfg.MaxHoldMs {
		return ReasonTime, ActionCloseSymbol, true
	}

	if in.Signal != nil {
		if c.lastSig != nil && c.lastSig.Action != in.Signal.Action {
			return ReasonSignalFlip, ActionCloseSymbol, true
		}
		c.lastSig = in.Signal
		if in.Signal.Px != nil && !in.Signal.Px.IsZero() {
			diffBps := in.Mark.Sub(*in.Signal.Px).Abs().Div(*in.Signal.Px).Mul(decimal.NewFromInt(10000))
			if !e.cfg.EpsilonBps.IsZero() && diffBps.LessThanOrEqual(e.cfg.EpsilonBps) {
				return ReasonFairValue, ActionCloseSymbol, true
			}
		}
	}

	sigma := e.sigma(c)
	if sigma > 0 {
		favorable := c.favorableReturn(in.Mark)
		if !e.cfg.TPSigma.IsZero() && decimal.NewFromFloat(favorable).GreaterThanOrEqual(e.cfg.TPSigma.Mul(decimal.NewFromFloat(sigma))) {
			return ReasonTakeProfit, ActionCloseSymbol, true
		}
		if !e.cfg.SLSigma.IsZero() && decimal.NewFromFloat(favorable).LessThanOrEqual(e.cfg.SLSigma.Mul(decimal.NewFromFloat(sigma)).Neg()) {
			return ReasonStopLoss, ActionCloseSymbol, true
		}

		if !c.armed && decimal.NewFromFloat(favorable).GreaterThanOrEqual(e.cfg.InitArmPnLSigma.Mul(decimal.NewFromFloat(sigma))) {
			c.armed = true
		}
		if c.armed && !e.cfg.RetracePct.IsZero() {
			if c.dir == domain.Buy {
				if in.Mark.GreaterThan(c.peakPx) {
					c.peakPx = in.Mark
				}
				retrace := c.peakPx.Sub(in.Mark).Div(c.peakPx)
				if retrace.GreaterThanOrEqual(e.cfg.RetracePct) {
					return ReasonTrailing, ActionCloseSymbol, true
				}
			} else {
				if c.troughPx.IsZero() || in.Mark.LessThan(c.troughPx) {
					c.troughPx = in.Mark
				}
				retrace := in.Mark.Sub(c.troughPx).Div(c.troughPx)
				if retrace.GreaterThanOrEqual(e.cfg.RetracePct) {
					return ReasonTrailing, ActionCloseSymbol, true
				}
			}
		}
	}

	return "", "", false
}

// favorableReturn is the position's return since entry, sign-adjusted so
// positive always means favorable.
func (c *positionCycle) favorableReturn(mark decimal.Decimal) float64 {
	if c.avgPx.IsZero() {
		return 0
	}
	ret, _ := mark.Sub(c.avgPx).Div(c.avgPx).Float64()
	if c.dir == domain.Sell {
		ret = -ret
	}
	return ret
}

func (e *Engine) updateSigma(c *positionCycle, mark decimal.Decimal) {
	if !c.lastPx.IsZero() && !mark.IsZero() {
		ratio, _ := mark.Div(c.lastPx).Float64()
		if ratio > 0 {
			c.returns = append(c.returns, math.Log(ratio))
			if len(c.returns) > e.cfg.SigmaLookback {
				c.returns = c.returns[len(c.returns)-e.cfg.SigmaLookback:]
			}
		}
	}
	c.lastPx = mark
}

func (e *Engine) sigma(c *positionCycle) float64 {
	n := len(c.returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range c.returns {
		mean += r
	}
	mean /= float64(n)
	var variance float64
	for _, r := range c.returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n - 1)
	return math.Sqrt(variance)
}
