package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

func TestTracker_CountsSignalsIntentsAndExits(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	tr := NewTracker(bus, clk)
	tr.Start(context.Background())
	defer tr.Close()

	bus.Publish(events.DomainEvent{Type: events.TypeStrategySignal, Data: domain.Signal{StrategyID: "momentum-1", Symbol: "BTCUSDT"}})
	bus.Publish(events.DomainEvent{Type: events.TypeStrategyIntent, Data: domain.OrderIntent{
		Symbol: "BTCUSDT",
		Meta:   domain.IntentMeta{StrategyID: "momentum-1", Exit: true, Reason: "EXIT_TIME:CLOSE_SYMBOL"},
	}})
	bus.Publish(events.DomainEvent{Type: events.TypeOrderReject, Data: domain.OrderReject{ID: "o1", Reason: "price-band"}})

	require.Eventually(t, func() bool {
		snap := tr.Snapshot()
		c, ok := snap["momentum-1"]
		return ok && c.Signals == 1 && c.Intents == 1 && c.ExitReasons["EXIT_TIME:CLOSE_SYMBOL"] == 1
	}, time.Second, time.Millisecond)

	snap := tr.Snapshot()
	assert.Equal(t, int64(1), snap["unattributed"].Rejects)
}

func TestTracker_FillBucketedBySymbol(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	tr := NewTracker(bus, clk)
	tr.Start(context.Background())
	defer tr.Close()

	bus.Publish(events.DomainEvent{Type: events.TypeOrderFill, Data: domain.Fill{
		OrderID: "o1", Symbol: "ETHUSDT", Px: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1),
	}})

	require.Eventually(t, func() bool {
		return tr.Snapshot()["symbol:ETHUSDT"].Fills == 1
	}, time.Second, time.Millisecond)
}
