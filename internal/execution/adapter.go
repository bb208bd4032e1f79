// Package execution is the Execution Policy (spec.md C12) and Execution
// Adapter (spec.md C13): a retrying, circuit-breaking wrapper around a
// venue submit/cancel contract that emits ack/fill/reject/cancel events.
package execution

import (
	"context"
	"errors"

	"trading-core/internal/domain"
)

// AdapterError is returned by Adapter.Submit/Cancel on venue failure.
type AdapterError struct {
	Venue string
	Msg   string
}

func (e *AdapterError) Error() string { return e.Venue + ": " + e.Msg }

// ErrCircuitOpen is returned by Policy.Submit when the breaker is open.
var ErrCircuitOpen = errors.New("execution: circuit open")

// AdapterEventKind tags the shape of an AdapterEvent's payload.
type AdapterEventKind string

const (
	EventAck    AdapterEventKind = "ack"
	EventFill   AdapterEventKind = "fill"
	EventReject AdapterEventKind = "reject"
	EventCancel AdapterEventKind = "cancel"
)

// AdapterEvent is a venue-side lifecycle update for a previously submitted
// order, tagged by Kind to select which payload field is populated.
type AdapterEvent struct {
	Kind   AdapterEventKind
	Ack    domain.OrderAck
	Fill   domain.Fill
	Reject domain.OrderReject
	Cancel domain.OrderCancelEvent
}

// Adapter is the venue contract: submit/cancel plus a stream of
// asynchronous lifecycle events. Submit must be idempotent — a repeated
// submit for an order ID already accepted is a no-op, not a duplicate
// order (spec.md §4.8).
type Adapter interface {
	Venue() string
	Submit(ctx context.Context, order domain.OrderIntent) error
	Cancel(ctx context.Context, orderID string) error
	Events() <-chan AdapterEvent
}
