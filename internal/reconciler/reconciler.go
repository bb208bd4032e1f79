// Package reconciler is the Intent Reconciler (spec.md C14): it tracks
// every submitted order for ack/fill deadlines and forces a single
// cancel attempt on stale intents, grounded on the teacher's periodic
// reconciliation.Service ticker loop.
package reconciler

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

// StaleReason tags why an intent was flagged stale.
type StaleReason string

const (
	ReasonAckTimeout  StaleReason = "ack-timeout"
	ReasonFillTimeout StaleReason = "fill-timeout"
)

// Config governs deadline timing.
type Config struct {
	PollInterval   time.Duration
	AckTimeoutMs   int64
	FillTimeoutMs  int64
}

// DefaultConfig is a conservative starting point.
func DefaultConfig() Config {
	return Config{PollInterval: time.Second, AckTimeoutMs: 5000, FillTimeoutMs: 30000}
}

type tracked struct {
	submittedAt     int64
	ackedAt         int64 // valid once acked is true
	acked           bool
	cancelAttempted bool
}

// Metrics counts stale-intent occurrences by reason.
type Metrics struct {
	mu     sync.Mutex
	counts map[StaleReason]int64
}

func newMetrics() *Metrics { return &Metrics{counts: make(map[StaleReason]int64)} }

func (m *Metrics) inc(r StaleReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[r]++
}

// Snapshot returns a copy of the current counts.
func (m *Metrics) Snapshot() map[StaleReason]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[StaleReason]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Reconciler tracks outstanding order intents and forces a cancel when
// they blow past the ack or fill deadline (spec.md §4.9).
type Reconciler struct {
	bus     *events.Bus
	clk     clock.Clock
	venue   string
	cancels func(ctx context.Context, orderID string) error
	cfg     Config
	Metrics *Metrics

	mu       sync.Mutex
	entries  map[string]*tracked

	subNew    <-chan events.DomainEvent
	subAck    <-chan events.DomainEvent
	subFill   <-chan events.DomainEvent
	subReject <-chan events.DomainEvent
	subCancel <-chan events.DomainEvent
	unsubs    []func()

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler for the named venue. cancelFn issues the
// single forced cancel attempt for a stale order (typically Policy.Cancel).
func New(bus *events.Bus, clk clock.Clock, venue string, cancelFn func(ctx context.Context, orderID string) error, cfg Config) *Reconciler {
	return &Reconciler{
		bus:     bus,
		clk:     clk,
		venue:   venue,
		cancels: cancelFn,
		cfg:     cfg,
		Metrics: newMetrics(),
		entries: make(map[string]*tracked),
	}
}

// Start subscribes to order lifecycle events and begins the poll loop.
func (r *Reconciler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	var unsub func()
	r.subNew, unsub = r.bus.Subscribe(events.TypeOrderNew, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subAck, unsub = r.bus.Subscribe(events.TypeOrderAck, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subFill, unsub = r.bus.Subscribe(events.TypeOrderFill, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subReject, unsub = r.bus.Subscribe(events.TypeOrderReject, 4096)
	r.unsubs = append(r.unsubs, unsub)
	r.subCancel, unsub = r.bus.Subscribe(events.TypeOrderCancel, 4096)
	r.unsubs = append(r.unsubs, unsub)

	go r.loop(runCtx)
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.cancelAllOutstanding(context.Background())
			return
		case e := <-r.subNew:
			r.onNew(e)
		case e := <-r.subAck:
			r.onAck(e)
		case e := <-r.subFill:
			r.onTerminal(e, "fill")
		case e := <-r.subReject:
			r.onTerminal(e, "reject")
		case e := <-r.subCancel:
			r.onTerminal(e, "cancel")
		case <-ticker.C:
			r.checkDeadlines(ctx)
		}
	}
}

func (r *Reconciler) onNew(e events.DomainEvent) {
	id, ok := orderID(e)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &tracked{submittedAt: r.clk.NowMs()}
	metrics.ExecutionPendingIntents.WithLabelValues(r.venue).Set(float64(len(r.entries)))
}

func (r *Reconciler) onAck(e events.DomainEvent) {
	id, ok := orderID(e)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.entries[id]; ok {
		t.ackedAt = r.clk.NowMs()
		t.acked = true
	}
}

func (r *Reconciler) onTerminal(e events.DomainEvent, kind string) {
	id, ok := orderID(e)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	metrics.ExecutionPendingIntents.WithLabelValues(r.venue).Set(float64(len(r.entries)))
}

func (r *Reconciler) checkDeadlines(ctx context.Context) {
	now := r.clk.NowMs()

	r.mu.Lock()
	var ackStale, fillStale []string
	for id, t := range r.entries {
		if t.cancelAttempted {
			continue
		}
		switch {
		case !t.acked && now-t.submittedAt >= r.cfg.AckTimeoutMs:
			ackStale = append(ackStale, id)
			t.cancelAttempted = true
		case t.acked && now-t.ackedAt >= r.cfg.FillTimeoutMs:
			fillStale = append(fillStale, id)
			t.cancelAttempted = true
		}
	}
	r.mu.Unlock()

	for _, id := range ackStale {
		r.Metrics.inc(ReasonAckTimeout)
		metrics.ExecutionStaleIntents.WithLabelValues(r.venue, string(ReasonAckTimeout)).Inc()
		r.forceCancel(ctx, id)
	}
	for _, id := range fillStale {
		r.Metrics.inc(ReasonFillTimeout)
		metrics.ExecutionStaleIntents.WithLabelValues(r.venue, string(ReasonFillTimeout)).Inc()
		r.forceCancel(ctx, id)
	}
}

func (r *Reconciler) forceCancel(ctx context.Context, id string) {
	if r.cancels == nil {
		return
	}
	if err := r.cancels(ctx, id); err != nil {
		log.Printf("reconciler: forced cancel of %s failed: %v", id, err)
	}
}

func (r *Reconciler) cancelAllOutstanding(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.forceCancel(ctx, id)
	}
}

// Close stops the reconciler's poll loop.
func (r *Reconciler) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

func orderID(e events.DomainEvent) (string, bool) {
	switch v := e.Data.(type) {
	case domain.OrderIntent:
		return v.ID, true
	case domain.OrderAck:
		return v.ID, true
	case domain.Fill:
		return v.OrderID, true
	case domain.OrderReject:
		return v.ID, true
	case domain.OrderCancelEvent:
		return v.ID, true
	default:
		return "", false
	}
}
