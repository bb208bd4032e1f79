// Package eventstore implements the append-only event log (spec.md §4.2)
// behind a pluggable Store interface with three drivers: in-memory,
// local-file (length-prefixed JSON with a CRC per record), and relational
// (GORM over mysql, or database/sql over sqlite). All three assign a
// monotonic Seq on Append and support Read (a consistent-prefix snapshot)
// plus Stream (a live tail of events appended after the subscription).
// Opening Stream before a Read up to Tail, and skipping streamed events at
// or below that tail, gives a projection the whole sequence with no gap or
// duplicate; the account projection rebuilds this way (§4.10).
package eventstore

import (
	"context"
	"errors"

	"trading-core/internal/events"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("eventstore: closed")

// Filter selects a subset of events during Read. A nil filter matches all.
type Filter func(events.DomainEvent) bool

// Store is the append-only log contract. Implementations must keep a
// single, total order: for a.Seq < b.Seq, every reader observes a before
// b.
type Store interface {
	// Append assigns each event the next sequence number(s) and persists
	// the batch atomically: it either commits every event or none.
	Append(ctx context.Context, evs ...events.DomainEvent) error

	// Read returns events with from <= Seq <= to (nil bounds are open) that
	// match filter, in ascending Seq order. Read is stable under
	// concurrent Append: it always returns a consistent prefix.
	Read(ctx context.Context, from, to *uint64, filter Filter) ([]events.DomainEvent, error)

	// Stream returns a channel delivering every event appended from this
	// call onward, plus a function to stop the subscription. Opened
	// before a Read up to the current tail, with streamed events at or
	// below that tail skipped, callers see the full sequence without gaps
	// or duplicates.
	Stream(ctx context.Context) (<-chan events.DomainEvent, func())

	// Tail returns the sequence number of the most recently appended
	// event (0 if the store is empty), for callers that Stream() and then
	// Read() up to the same cursor.
	Tail(ctx context.Context) (uint64, error)

	// Close flushes any pending writes and releases resources.
	Close() error
}
