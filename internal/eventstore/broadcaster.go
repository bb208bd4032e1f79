package eventstore

import (
	"sync"

	"trading-core/internal/events"
)

// tailBroadcaster fans appended events out to live Stream subscribers. It
// is shared by all three drivers since, within one process, appends always
// originate from a single writer goroutine (spec.md §5: "the event store is
// single-writer per instance").
type tailBroadcaster struct {
	mu   sync.Mutex
	subs map[chan events.DomainEvent]struct{}
}

func newTailBroadcaster() *tailBroadcaster {
	return &tailBroadcaster{subs: make(map[chan events.DomainEvent]struct{})}
}

func (t *tailBroadcaster) subscribe() (<-chan events.DomainEvent, func()) {
	ch := make(chan events.DomainEvent, 1024)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	stop := func() {
		t.mu.Lock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
		t.mu.Unlock()
	}
	return ch, stop
}

func (t *tailBroadcaster) publish(e events.DomainEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop rather than block the single writer.
		}
	}
}

func (t *tailBroadcaster) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
}
