package riskbreach

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMonitor_TripsOnNavFloor(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	ch, unsub := bus.Subscribe(events.TypeRiskBreach, 4)
	defer unsub()

	m := New(bus, clk, nil, Config{NavFloor: d("1000")})
	m.Check(domain.PortfolioAnalytics{PortfolioSnapshot: domain.PortfolioSnapshot{Nav: d("900")}})

	require.True(t, m.Killed())
	select {
	case e := <-ch:
		b := e.Data.(Breach)
		assert.Equal(t, BreachNavFloor, b.Kind)
	default:
		t.Fatal("expected a risk.breach event")
	}
}

func TestMonitor_ClearsAfterRecovery(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	m := New(bus, clk, nil, Config{NavFloor: d("1000")})

	m.Check(domain.PortfolioAnalytics{PortfolioSnapshot: domain.PortfolioSnapshot{Nav: d("900")}})
	require.True(t, m.Killed())

	m.Check(domain.PortfolioAnalytics{PortfolioSnapshot: domain.PortfolioSnapshot{Nav: d("1100")}})
	assert.False(t, m.Killed())
}

func TestMonitor_TripsOnDrawdown(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	m := New(bus, clk, nil, Config{MaxDrawdownPct: d("0.2")})

	m.Check(domain.PortfolioAnalytics{DrawdownPct: d("0.1")})
	assert.False(t, m.Killed())

	m.Check(domain.PortfolioAnalytics{DrawdownPct: d("0.25")})
	assert.True(t, m.Killed())
}

func TestMonitor_DisabledThresholdsNeverTrip(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	m := New(bus, clk, nil, Config{})

	m.Check(domain.PortfolioAnalytics{PortfolioSnapshot: domain.PortfolioSnapshot{Nav: d("-1000000")}, DrawdownPct: d("0.99")})
	assert.False(t, m.Killed())
}
