package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
)

// MockAdapter generates a synthetic random-walk tick stream for one
// (venue, symbol), grounded on the teacher's internal/market.MockFeed.
type MockAdapter struct {
	id       string
	Venue    string
	Symbol   string
	Start    float64
	Step     float64
	Interval time.Duration

	hooks  LifecycleHooks
	out    chan domain.Tick
	cancel context.CancelFunc
	price  float64
}

// NewMockAdapter creates a mock adapter for (venue, symbol).
func NewMockAdapter(venue, symbol string, start, step float64, interval time.Duration) *MockAdapter {
	if start == 0 {
		start = 100.0
	}
	if step == 0 {
		step = 0.5
	}
	if interval == 0 {
		interval = time.Second
	}
	return &MockAdapter{
		id:       venue + ":" + symbol,
		Venue:    venue,
		Symbol:   symbol,
		Start:    start,
		Step:     step,
		Interval: interval,
		out:      make(chan domain.Tick, 256),
		price:    start,
	}
}

func (m *MockAdapter) ID() string                        { return m.id }
func (m *MockAdapter) Feed() <-chan domain.Tick           { return m.out }
func (m *MockAdapter) SetLifecycleHooks(h LifecycleHooks) { m.hooks = h }

func (m *MockAdapter) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	if m.hooks.OnStatusChange != nil {
		m.hooks.OnStatusChange(Connecting)
	}

	go func() {
		if m.hooks.OnStatusChange != nil {
			m.hooks.OnStatusChange(Connected)
		}
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				if m.hooks.OnStatusChange != nil {
					m.hooks.OnStatusChange(Disconnected)
				}
				return
			case <-ticker.C:
				m.price += (rand.Float64()*2 - 1) * m.Step
				if m.price <= 0 {
					m.price = m.Step
				}
				px := decimal.NewFromFloat(m.price)
				bid := px.Sub(decimal.NewFromFloat(m.Step / 4))
				ask := px.Add(decimal.NewFromFloat(m.Step / 4))
				t := domain.Tick{
					T:      time.Now().UnixMilli(),
					Symbol: m.Symbol,
					Venue:  m.Venue,
					Bid:    &bid,
					Ask:    &ask,
					Last:   &px,
				}
				if m.hooks.OnTick != nil {
					m.hooks.OnTick(t)
				}
				select {
				case m.out <- t:
				default:
				}
			}
		}
	}()
	return nil
}

func (m *MockAdapter) Disconnect() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// Inject pushes a specific tick directly, bypassing the random walk — used
// by tests that need deterministic scripted ticks (spec.md §8 scenario 1).
func (m *MockAdapter) Inject(t domain.Tick) {
	if m.hooks.OnTick != nil {
		m.hooks.OnTick(t)
	}
	select {
	case m.out <- t:
	default:
	}
}
