// Package clock provides an injectable time source and identifier generator
// so the hot pipeline never calls time.Now or uuid.New directly.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is a monotonic, injectable time source.
type Clock interface {
	Now() time.Time
	NowMs() int64
}

// Real returns wall-clock time from the runtime.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }
func (Real) NowMs() int64   { return time.Now().UnixMilli() }

// Fixed is a manually advanced clock for tests and replay.
type Fixed struct {
	t time.Time
}

// NewFixed creates a Fixed clock starting at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time { return f.t }
func (f *Fixed) NowMs() int64   { return f.t.UnixMilli() }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.t = f.t.Add(d)
}

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.t = t
}

// NewID returns a UUIDv4-style identifier for orders, events and traces.
func NewID() string {
	return uuid.NewString()
}
