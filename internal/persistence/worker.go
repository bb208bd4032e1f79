// Package persistence provides the non-blocking bridge between the hot
// pipeline and the durable event store (spec.md §4.3). The hot path only
// ever calls Enqueue; a background goroutine drains the queue into the
// store.
package persistence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/eventstore"
	"trading-core/pkg/metrics"
)

// OverflowPolicy selects behavior when the queue is full for a
// non-critical event.
type OverflowPolicy string

const (
	// DropOldestNonCritical evicts the oldest queued event to make room.
	DropOldestNonCritical OverflowPolicy = "drop-oldest-non-critical"
	// Block waits for queue space (used sparingly; the hot path generally
	// prefers DropOldestNonCritical).
	Block OverflowPolicy = "block"
)

// criticalTypes must never be silently dropped (spec.md §4.3).
var criticalTypes = map[events.Type]bool{
	events.TypeOrderNew:             true,
	events.TypeOrderFill:            true,
	events.TypeOrderReject:          true,
	events.TypeAccountBalanceAdjust: true,
	events.TypeAccountTransfer:      true,
	events.TypePortfolioSnapshot:    true,
	events.TypePnlAnalytics:         true,
	events.TypeRiskCheck:            true,
}

// IsCritical reports whether t must never be dropped by the worker.
func IsCritical(t events.Type) bool { return criticalTypes[t] }

// Metrics mirrors the persistence* gauges in spec.md §6.
type Metrics struct {
	QueueDepth    int64
	Drops         int64
	InlineWrites  int64 // synchronous critical-event stalls forced by overflow
	HighWatermark int64 // count of Enqueue calls made with the queue at or above 85% of capacity
	Fatal         int32 // 1 once repeated critical-append failure trips the flag
}

// Worker buffers events from the hot path and writes them to Store in the
// background, honoring the overflow policy for non-critical events and
// forcing a synchronous append for critical ones rather than dropping them.
type Worker struct {
	store    eventstore.Store
	capacity int
	policy   OverflowPolicy

	queue chan events.DomainEvent
	mu    sync.Mutex // guards drop-oldest compaction below

	metrics Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker creates a persistence worker writing into store. capacity
// defaults to 10_000 per spec.md §4.3 when <= 0.
func NewWorker(store eventstore.Store, capacity int, policy OverflowPolicy) *Worker {
	if capacity <= 0 {
		capacity = 10_000
	}
	if policy == "" {
		policy = DropOldestNonCritical
	}
	w := &Worker{
		store:    store,
		capacity: capacity,
		policy:   policy,
		queue:    make(chan events.DomainEvent, capacity),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue is the only hot-path entry point. It never blocks for
// non-critical events under DropOldestNonCritical: if the queue is full it
// evicts the oldest queued event and logs a drop, or appends it
// synchronously instead when that event is critical. Critical events that
// cannot be enqueued escalate to a synchronous append.
func (w *Worker) Enqueue(e events.DomainEvent) {
	depth := len(w.queue)
	atomic.StoreInt64(&w.metrics.QueueDepth, int64(depth))
	metrics.PersistenceQueueDepth.Set(float64(depth))
	if depth >= int(float64(w.capacity)*0.85) {
		atomic.AddInt64(&w.metrics.HighWatermark, 1)
	}

	select {
	case w.queue <- e:
		return
	default:
	}

	if IsCritical(e.Type) {
		w.inlineAppend(e)
		return
	}

	switch w.policy {
	case Block:
		w.queue <- e // accept hot-path stall; caller opted into it
	default:
		w.dropOldestAndEnqueue(e)
	}
}

func (w *Worker) dropOldestAndEnqueue(e events.DomainEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case dropped := <-w.queue:
		if IsCritical(dropped.Type) {
			w.inlineAppend(dropped)
		} else {
			atomic.AddInt64(&w.metrics.Drops, 1)
			metrics.PersistenceQueueDrops.Inc()
			log.Printf("persistence: queue full, dropped %s (seq-pending)", dropped.Type)
		}
	default:
	}
	select {
	case w.queue <- e:
	default:
		// Extremely unlikely race with another producer; fall back to an
		// inline append rather than lose the event silently.
		w.inlineAppend(e)
	}
}

func (w *Worker) inlineAppend(e events.DomainEvent) {
	atomic.AddInt64(&w.metrics.InlineWrites, 1)
	metrics.PersistenceInlineWrites.Inc()
	const maxAttempts = 5
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = w.store.Append(context.Background(), e); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
	}
	atomic.StoreInt32(&w.metrics.Fatal, 1)
	log.Printf("persistence: critical append failed after %d attempts, degraded flag set: %v", maxAttempts, err)
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case e := <-w.queue:
			if err := w.store.Append(context.Background(), e); err != nil {
				log.Printf("persistence: background append failed for %s: %v", e.Type, err)
				if IsCritical(e.Type) {
					w.inlineAppend(e)
				}
			}
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain flushes whatever remains in the queue synchronously, bounded by a
// fixed budget, then falls back to inline appends for anything left.
func (w *Worker) drain() {
	deadline := time.Now().Add(3 * time.Second)
	for {
		select {
		case e := <-w.queue:
			if err := w.store.Append(context.Background(), e); err != nil {
				w.inlineAppend(e)
			}
			if time.Now().After(deadline) {
				w.flushRemainderInline()
				return
			}
		default:
			return
		}
	}
}

func (w *Worker) flushRemainderInline() {
	for {
		select {
		case e := <-w.queue:
			w.inlineAppend(e)
		default:
			return
		}
	}
}

// Shutdown drains the queue within a bounded time and flushes synchronously
// (spec.md §4.3).
func (w *Worker) Shutdown(ctx context.Context) {
	close(w.stopCh)
	select {
	case <-w.doneCh:
	case <-ctx.Done():
	}
}

// Snapshot returns a copy of the current metrics.
func (w *Worker) Snapshot() Metrics {
	return Metrics{
		QueueDepth:    atomic.LoadInt64(&w.metrics.QueueDepth),
		Drops:         atomic.LoadInt64(&w.metrics.Drops),
		InlineWrites:  atomic.LoadInt64(&w.metrics.InlineWrites),
		HighWatermark: atomic.LoadInt64(&w.metrics.HighWatermark),
		Fatal:         atomic.LoadInt32(&w.metrics.Fatal),
	}
}
