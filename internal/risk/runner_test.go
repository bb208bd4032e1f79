package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

func newTestRunner(t *testing.T, bus *events.Bus, killed func() bool) (*Runner, *Pipeline) {
	t.Helper()
	clk := clock.NewFixed(time.Unix(0, 0))
	base := domain.RiskConfig{Notional: decimal.NewFromInt(1000000)}
	markPrice := func(string) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	position := func(string) (decimal.Decimal, bool) { return decimal.Zero, true }
	balance := func(string, string) (decimal.Decimal, bool) { return decimal.NewFromInt(1000000), true }
	assets := func(string) (string, string, bool) { return "BTC", "USDT", true }
	pipeline := NewPipeline(bus, clk, base, MarginConfig{}, "binance", markPrice, position, balance, assets)
	return NewRunner(bus, clk, pipeline, killed), pipeline
}

func publishIntent(bus *events.Bus, order domain.OrderIntent, sandbox bool) {
	bus.Publish(events.DomainEvent{
		ID:       "evt-" + order.ID,
		Type:     events.TypeStrategyIntent,
		Data:     order,
		Metadata: map[string]any{"sandbox": sandbox},
	})
}

func TestRunner_ApprovedIntentPublishesOrderNew(t *testing.T) {
	bus := events.NewBus()
	orderNew, unsub := bus.Subscribe(events.TypeOrderNew, 4)
	defer unsub()

	runner, _ := newTestRunner(t, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Close()

	publishIntent(bus, intent("o1", domain.Buy, decimal.NewFromInt(1)), false)

	select {
	case e := <-orderNew:
		require.Equal(t, "o1", e.Data.(domain.OrderIntent).ID)
	case <-time.After(time.Second):
		t.Fatal("expected order.new")
	}
}

func TestRunner_SandboxIntentNeverPublishesOrderNew(t *testing.T) {
	bus := events.NewBus()
	orderNew, unsub := bus.Subscribe(events.TypeOrderNew, 4)
	defer unsub()

	runner, _ := newTestRunner(t, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Close()

	publishIntent(bus, intent("o1", domain.Buy, decimal.NewFromInt(1)), true)

	select {
	case e := <-orderNew:
		t.Fatalf("unexpected order.new for sandbox intent: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunner_TerminalEventsReleaseReservation(t *testing.T) {
	bus := events.NewBus()
	runner, pipeline := newTestRunner(t, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Close()

	publishIntent(bus, intent("o1", domain.Buy, decimal.NewFromInt(1)), false)
	time.Sleep(50 * time.Millisecond)

	bus.Publish(events.DomainEvent{ID: "fill-1", Type: events.TypeOrderFill, Data: domain.Fill{OrderID: "o1"}})
	time.Sleep(50 * time.Millisecond)

	pipeline.mu.Lock()
	_, stillHeld := pipeline.reservations["o1"]
	pipeline.mu.Unlock()
	require.False(t, stillHeld, "fill should have released the reservation")
}

func TestRunner_KillSwitchRejectsBeforePublish(t *testing.T) {
	bus := events.NewBus()
	orderNew, unsub := bus.Subscribe(events.TypeOrderNew, 4)
	defer unsub()

	killed := func() bool { return true }
	runner, pipeline := newTestRunner(t, bus, killed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Close()

	publishIntent(bus, intent("o1", domain.Buy, decimal.NewFromInt(1)), false)
	time.Sleep(50 * time.Millisecond)

	select {
	case e := <-orderNew:
		t.Fatalf("unexpected order.new while kill switch is tripped: %+v", e)
	default:
	}

	pipeline.mu.Lock()
	_, stillHeld := pipeline.reservations["o1"]
	pipeline.mu.Unlock()
	require.False(t, stillHeld, "kill-switch rejection should release the reservation it briefly held")
}
