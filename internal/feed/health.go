package feed

import (
	"sync"

	"trading-core/internal/clock"
)

// HealthSnapshot is the per-feed health record exposed to the control
// plane and sampled once per second (spec.md §4.4).
type HealthSnapshot struct {
	ID          string
	Status      Status
	Reconnects  int
	LastTickTs  int64
	AgeSeconds  float64
}

// healthTracker accumulates status/reconnect/tick-age state for one feed.
type healthTracker struct {
	mu         sync.RWMutex
	id         string
	status     Status
	reconnects int
	lastTickTs int64
	clk        clock.Clock
}

func newHealthTracker(id string, clk clock.Clock) *healthTracker {
	return &healthTracker{id: id, status: Connecting, clk: clk}
}

func (h *healthTracker) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

func (h *healthTracker) recordReconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnects++
}

func (h *healthTracker) recordTick(ts int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTickTs = ts
}

func (h *healthTracker) snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	age := 0.0
	if h.lastTickTs > 0 {
		age = float64(h.clk.NowMs()-h.lastTickTs) / 1000.0
	}
	return HealthSnapshot{
		ID:         h.id,
		Status:     h.status,
		Reconnects: h.reconnects,
		LastTickTs: h.lastTickTs,
		AgeSeconds: age,
	}
}
