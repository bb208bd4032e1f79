// Package account is Account State (spec.md C15) and Fill Accounting
// (spec.md C16): a replay-then-subscribe balance ledger projection, fed
// by two account.balance.adjusted events per fill, grounded on the
// teacher's balance.Manager lock/unlock/deduct/add cache.
package account

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trading-core/internal/domain"
	"trading-core/internal/eventstore"
	"trading-core/internal/events"
)

// BalanceAdjustment is the payload of an account.balance.adjusted event.
type BalanceAdjustment struct {
	Venue  string
	Asset  string
	Delta  decimal.Decimal // signed
	Lock   decimal.Decimal // signed change to locked (0 for plain adjust)
	Reason string
	Meta   map[string]any
}

// Transfer is the payload of an account.transfer event: a movement
// between two (venue, asset) ledger lines.
type Transfer struct {
	FromVenue, FromAsset string
	ToVenue, ToAsset     string
	Amount               decimal.Decimal
	Reason               string
}

// State is the live {venue -> asset -> BalanceEntry} projection built by
// reading the event store's consistent prefix and then subscribing to
// the bus under the same cursor (spec.md §4.2, §4.10).
type State struct {
	mu       sync.RWMutex
	balances map[string]map[string]domain.BalanceEntry

	unsub func()
	done  chan struct{}
}

// NewState creates an empty projection.
func NewState() *State {
	return &State{balances: make(map[string]map[string]domain.BalanceEntry)}
}

func isAccountEvent(e events.DomainEvent) bool {
	return e.Type == events.TypeAccountBalanceAdjust || e.Type == events.TypeAccountTransfer
}

// Rebuild opens a live Stream first, then reads every account event from
// store up to its current tail and folds them in; streamed events at or
// below that tail are skipped (spec.md §4.2/§4.10), so no event is missed
// or double-applied.
func (s *State) Rebuild(ctx context.Context, store eventstore.Store) error {
	stream, unsub := store.Stream(ctx)
	tail, err := store.Tail(ctx)
	if err != nil {
		unsub()
		return err
	}
	recs, err := store.Read(ctx, nil, &tail, isAccountEvent)
	if err != nil {
		unsub()
		return err
	}

	s.mu.Lock()
	for _, e := range recs {
		s.apply(e)
	}
	s.mu.Unlock()

	s.unsub = unsub
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for e := range stream {
			if e.Seq <= tail || !isAccountEvent(e) {
				continue
			}
			s.mu.Lock()
			s.apply(e)
			s.mu.Unlock()
		}
	}()
	return nil
}

func (s *State) apply(e events.DomainEvent) {
	switch v := e.Data.(type) {
	case BalanceAdjustment:
		s.adjust(v.Venue, v.Asset, v.Delta, v.Lock, e.Ts.UnixMilli())
	case Transfer:
		s.adjust(v.FromVenue, v.FromAsset, v.Amount.Neg(), decimal.Zero, e.Ts.UnixMilli())
		s.adjust(v.ToVenue, v.ToAsset, v.Amount, decimal.Zero, e.Ts.UnixMilli())
	}
}

// adjust must be called with mu held.
func (s *State) adjust(venue, asset string, delta, lockDelta decimal.Decimal, tsMs int64) {
	byAsset, ok := s.balances[venue]
	if !ok {
		byAsset = make(map[string]domain.BalanceEntry)
		s.balances[venue] = byAsset
	}
	entry := byAsset[asset]
	entry.Venue, entry.Asset = venue, asset
	entry.Available = entry.Available.Add(delta).Sub(lockDelta)
	entry.Locked = entry.Locked.Add(lockDelta)
	entry.Total = entry.Available.Add(entry.Locked)
	byAsset[asset] = entry
}

// Balance returns the current entry for (venue, asset), zero-value if
// never adjusted.
func (s *State) Balance(venue, asset string) domain.BalanceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[venue][asset]
}

// Available implements risk.BalanceFunc.
func (s *State) Available(venue, asset string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byAsset, ok := s.balances[venue]
	if !ok {
		return decimal.Zero, false
	}
	entry, ok := byAsset[asset]
	return entry.Available, ok
}

// Close stops the live subscription.
func (s *State) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.done != nil {
		<-s.done
	}
}
