package eventstore

import (
	"context"
	"sync"

	"trading-core/internal/events"
)

// MemoryStore is the in-memory driver: a growable slice guarded by a mutex.
// It is the default for tests and for the fast-path "hot" store the ring
// buffer (internal/eventstore/ring.go) sits in front of.
type MemoryStore struct {
	mu     sync.RWMutex
	log    []events.DomainEvent
	seq    uint64
	closed bool
	tail   *tailBroadcaster
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tail: newTailBroadcaster()}
}

func (m *MemoryStore) Append(ctx context.Context, evs ...events.DomainEvent) error {
	if len(evs) == 0 {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	stamped := make([]events.DomainEvent, len(evs))
	for i, e := range evs {
		m.seq++
		e.Seq = m.seq
		stamped[i] = e
	}
	m.log = append(m.log, stamped...)
	m.mu.Unlock()

	for _, e := range stamped {
		m.tail.publish(e)
	}
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, from, to *uint64, filter Filter) ([]events.DomainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]events.DomainEvent, 0, len(m.log))
	for _, e := range m.log {
		if from != nil && e.Seq < *from {
			continue
		}
		if to != nil && e.Seq > *to {
			continue
		}
		if filter != nil && !filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) Stream(ctx context.Context) (<-chan events.DomainEvent, func()) {
	return m.tail.subscribe()
}

func (m *MemoryStore) Tail(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.tail.closeAll()
	return nil
}
