package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

type fakeCanceller struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeCanceller) cancel(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, orderID)
	return nil
}

func (f *fakeCanceller) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

func TestReconciler_ForcesCancelOnAckTimeout(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.UnixMilli(0))
	canceller := &fakeCanceller{}
	cfg := Config{PollInterval: 5 * time.Millisecond, AckTimeoutMs: 50, FillTimeoutMs: 1_000_000}
	r := New(bus, clk, "binance", canceller.cancel, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	bus.Publish(events.DomainEvent{
		ID:   "evt-1",
		Type: events.TypeOrderNew,
		Data: domain.OrderIntent{ID: "o1", Symbol: "BTCUSDT"},
	})
	time.Sleep(10 * time.Millisecond)

	clk.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(canceller.called()) == 1
	}, time.Second, 5*time.Millisecond, "expected a forced cancel after the ack deadline")

	require.Equal(t, []string{"o1"}, canceller.called())
	require.Equal(t, int64(1), r.Metrics.Snapshot()[ReasonAckTimeout])
}

func TestReconciler_AckedBeforeDeadlineSkipsCancel(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.UnixMilli(0))
	canceller := &fakeCanceller{}
	cfg := Config{PollInterval: 5 * time.Millisecond, AckTimeoutMs: 50, FillTimeoutMs: 1_000_000}
	r := New(bus, clk, "binance", canceller.cancel, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	bus.Publish(events.DomainEvent{ID: "evt-1", Type: events.TypeOrderNew, Data: domain.OrderIntent{ID: "o1", Symbol: "BTCUSDT"}})
	time.Sleep(10 * time.Millisecond)
	bus.Publish(events.DomainEvent{ID: "evt-2", Type: events.TypeOrderAck, Data: domain.OrderAck{ID: "o1"}})
	time.Sleep(10 * time.Millisecond)

	clk.Advance(100 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, canceller.called(), "an acked order should not be forced to cancel on the ack deadline")
}

func TestReconciler_FillClearsTrackedEntry(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.UnixMilli(0))
	canceller := &fakeCanceller{}
	cfg := DefaultConfig()
	r := New(bus, clk, "binance", canceller.cancel, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	bus.Publish(events.DomainEvent{ID: "evt-1", Type: events.TypeOrderNew, Data: domain.OrderIntent{ID: "o1", Symbol: "BTCUSDT"}})
	time.Sleep(10 * time.Millisecond)
	bus.Publish(events.DomainEvent{ID: "evt-2", Type: events.TypeOrderFill, Data: domain.Fill{OrderID: "o1"}})
	time.Sleep(10 * time.Millisecond)

	r.mu.Lock()
	_, tracked := r.entries["o1"]
	r.mu.Unlock()
	require.False(t, tracked, "a fill should remove the order from outstanding tracking")
}
