package feed

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/pkg/metrics"
)

// Manager wires lifecycle hooks onto a set of per-(venue,symbol) Adapters,
// merges their output into a single Marks() stream, and maintains a health
// snapshot per source (spec.md §4.4). Reconnect is the adapter's own
// responsibility; the manager only records the event.
type Manager struct {
	bus *events.Bus
	clk clock.Clock

	mu       sync.RWMutex
	adapters map[string]Adapter
	health   map[string]*healthTracker

	out    chan domain.Tick
	stopCh chan struct{}
	wg     sync.WaitGroup

	// OnSample is invoked once per second with every feed's health, wiring
	// the feedTickAge/feedStatus/feedReconnects gauges (spec.md §6).
	OnSample func([]HealthSnapshot)
}

// NewManager creates an empty feed manager.
func NewManager(bus *events.Bus, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		bus:      bus,
		clk:      clk,
		adapters: make(map[string]Adapter),
		health:   make(map[string]*healthTracker),
		out:      make(chan domain.Tick, 4096),
		stopCh:   make(chan struct{}),
	}
}

// Add registers (and dedupes by ID) a feed adapter, wiring its lifecycle
// hooks and merging its output into Marks(). Adding the same adapter ID
// twice is a no-op — feed managers are deduplicated by identity before a
// composite is exposed (spec.md §4.7).
func (m *Manager) Add(a Adapter) {
	m.mu.Lock()
	if _, exists := m.adapters[a.ID()]; exists {
		m.mu.Unlock()
		return
	}
	ht := newHealthTracker(a.ID(), m.clk)
	m.adapters[a.ID()] = a
	m.health[a.ID()] = ht
	m.mu.Unlock()

	a.SetLifecycleHooks(LifecycleHooks{
		OnStatusChange: func(s Status) {
			ht.setStatus(s)
			statusValue := 0.0
			if s == Connected {
				statusValue = 1
			}
			metrics.FeedStatus.WithLabelValues(a.ID()).Set(statusValue)
			if m.bus != nil {
				m.bus.Publish(events.DomainEvent{
					ID:   clock.NewID(),
					Type: events.TypeFeedStatus,
					Data: HealthSnapshot{ID: a.ID(), Status: s},
					Ts:   m.clk.Now(),
				})
			}
		},
		OnReconnect: func() {
			ht.recordReconnect()
			metrics.FeedReconnects.WithLabelValues(a.ID()).Inc()
		},
		OnTick: func(t domain.Tick) {
			ht.recordTick(t.T)
			metrics.TicksIngested.Inc()
		},
	})
}

// Start connects every registered adapter and begins merging their Feed()
// channels into Marks(), plus a once-per-second health sampler.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	for _, a := range adapters {
		if err := a.Connect(ctx); err != nil {
			log.Printf("feed: %s connect error: %v", a.ID(), err)
		}
		m.wg.Add(1)
		go m.pump(ctx, a)
	}

	m.wg.Add(1)
	go m.sample(ctx)
}

func (m *Manager) pump(ctx context.Context, a Adapter) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case t, ok := <-a.Feed():
			if !ok {
				return
			}
			select {
			case m.out <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) sample(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			snaps := m.Health()
			for _, s := range snaps {
				metrics.FeedTickAge.WithLabelValues(s.ID).Set(s.AgeSeconds * 1000)
			}
			if m.OnSample != nil {
				m.OnSample(snaps)
			}
		}
	}
}

// Marks returns the merged tick stream across every registered feed.
func (m *Manager) Marks() <-chan domain.Tick { return m.out }

// Health returns a snapshot of every registered feed's health.
func (m *Manager) Health() []HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HealthSnapshot, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, h.snapshot())
	}
	return out
}

// Stop disconnects every adapter and stops the merge loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.mu.RLock()
	for _, a := range m.adapters {
		_ = a.Disconnect()
	}
	m.mu.RUnlock()
	m.wg.Wait()
}
