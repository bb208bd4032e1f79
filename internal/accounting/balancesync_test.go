package accounting

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trading-core/internal/account"
	"trading-core/internal/clock"
	"trading-core/internal/events"
)

type fakeVenueSource struct {
	balances map[string]decimal.Decimal
	err      error
}

func (f *fakeVenueSource) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	return f.balances, f.err
}

func TestSyncer_NoCorrectionWithinTolerance(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	ledger := account.NewState()

	sub, unsub := bus.Subscribe(events.TypeAccountBalanceAdjust, 8)
	defer unsub()

	source := &fakeVenueSource{balances: map[string]decimal.Decimal{"USDT": decimal.Zero}}
	cfg := Config{Venue: "binance", Interval: time.Hour, MaxDriftBps: decimal.NewFromInt(10), MutatesLedger: true}
	syncer := NewSyncer(bus, clk, source, ledger, cfg)

	syncer.sync(context.Background())

	select {
	case e := <-sub:
		t.Fatalf("unexpected correction event: %+v", e)
	default:
	}
	require.True(t, syncer.LastDriftBps().IsZero())
}

func TestSyncer_PublishesCorrectionWhenMutatesLedgerAndDriftExceeds(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	ledger := account.NewState()

	sub, unsub := bus.Subscribe(events.TypeAccountBalanceAdjust, 8)
	defer unsub()

	source := &fakeVenueSource{balances: map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1100)}}
	cfg := Config{Venue: "binance", Interval: time.Hour, MaxDriftBps: decimal.NewFromInt(10), MutatesLedger: true}
	syncer := NewSyncer(bus, clk, source, ledger, cfg)

	syncer.sync(context.Background())

	select {
	case e := <-sub:
		adj := e.Data.(account.BalanceAdjustment)
		require.Equal(t, "USDT", adj.Asset)
		require.True(t, adj.Delta.Equal(decimal.NewFromInt(1100)))
	case <-time.After(time.Second):
		t.Fatal("expected a correction event")
	}
	require.True(t, syncer.LastDriftBps().GreaterThan(decimal.NewFromInt(10)))
}

func TestSyncer_FetchErrorIncrementsFailures(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	ledger := account.NewState()

	source := &fakeVenueSource{err: context.DeadlineExceeded}
	cfg := DefaultConfig("binance")
	syncer := NewSyncer(bus, clk, source, ledger, cfg)

	syncer.sync(context.Background())
	require.Equal(t, 1, syncer.consecutiveFail)
}
