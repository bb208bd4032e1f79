// Package strategy is the Strategy Runner (spec.md C8): each strategy
// definition resolves to a pure function (ticks, context, params) →
// signals. Built-ins cover momentum and arbitrage families; user-provided
// types decode a schema-validated parameter block the same way the
// teacher's engine.go decoded per-type JSON parameters.
package strategy

import (
	"trading-core/internal/domain"
)

// Strategy is the pure decision function every family implements: given
// the next tick (and whatever internal window state it keeps), it returns
// at most one Signal.
type Strategy interface {
	ID() string
	Symbol() string
	OnTick(t domain.Tick) (*domain.Signal, error)
}

// Context bundles services every strategy may consult.
type Context struct {
	// Sandbox strategies emit signals/intents but never reach execution
	// (spec.md §4.7, GLOSSARY).
	Sandbox bool
}
