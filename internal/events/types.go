package events

import "time"

// Type enumerates the closed set of domain event topics the bus carries.
// Publishing or subscribing to a Type outside this set is a hard error at
// registration time (see Bus.Subscribe).
type Type string

const (
	TypeMarketTick           Type = "market.tick"
	TypeStrategySignal       Type = "strategy.signal"
	TypeStrategyIntent       Type = "strategy.intent"
	TypeOrderNew             Type = "order.new"
	TypeOrderAck             Type = "order.ack"
	TypeOrderFill            Type = "order.fill"
	TypeOrderReject          Type = "order.reject"
	TypeOrderCancel          Type = "order.cancel"
	TypeRiskCheck            Type = "risk.check"
	TypeRiskBreach           Type = "risk.breach"
	TypeAccountBalanceAdjust Type = "account.balance.adjusted"
	TypeAccountTransfer      Type = "account.transfer"
	TypePortfolioSnapshot    Type = "portfolio.snapshot"
	TypePnlAnalytics         Type = "pnl.analytics"
	TypeFeedStatus           Type = "feed.status"

	// All is the wildcard pseudo-type used to subscribe to every topic.
	All Type = "*"
)

// KnownTypes is the closed set accepted by Subscribe/Publish, excluding All.
var KnownTypes = map[Type]bool{
	TypeMarketTick:           true,
	TypeStrategySignal:       true,
	TypeStrategyIntent:       true,
	TypeOrderNew:             true,
	TypeOrderAck:             true,
	TypeOrderFill:            true,
	TypeOrderReject:          true,
	TypeOrderCancel:          true,
	TypeRiskCheck:            true,
	TypeRiskBreach:           true,
	TypeAccountBalanceAdjust: true,
	TypeAccountTransfer:      true,
	TypePortfolioSnapshot:    true,
	TypePnlAnalytics:         true,
	TypeFeedStatus:           true,
}

// DomainEvent is the tagged variant carried on the bus and in the event
// store. Payloads (Data) are treated as immutable once published.
type DomainEvent struct {
	ID       string         `json:"id"`
	Type     Type           `json:"type"`
	Data     any            `json:"data"`
	Ts       time.Time      `json:"ts"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TraceID  string         `json:"traceId,omitempty"`

	// Seq is assigned by the event store on append; zero until appended.
	Seq uint64 `json:"seq,omitempty"`
}
