// Package accounting is the periodic balance-sync watchdog supplementing
// Account State (spec.md C15): it polls the venue's own balance endpoint
// and compares it against the event-sourced ledger in internal/account,
// surfacing drift rather than trusting the ledger alone. Grounded on the
// teacher's internal/balance.Manager, whose Sync/ticker loop this keeps;
// its mutable total/available/locked cache is replaced with a read against
// account.State, since the ledger itself is now the source of truth and
// this package only watches it.
package accounting

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/account"
	"trading-core/internal/clock"
	"trading-core/internal/events"
	"trading-core/pkg/metrics"
)

// VenueSource fetches the venue's authoritative per-asset total balance,
// grounded on the teacher's ExchangeClient.GetBalance contract.
type VenueSource interface {
	FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Config governs sync cadence and drift handling.
type Config struct {
	Venue         string
	Interval      time.Duration
	MaxDriftBps   decimal.Decimal
	MutatesLedger bool // if true, drift beyond MaxDriftBps is corrected via a ledger adjustment
}

// DefaultConfig mirrors pkg/config/tree.go's accounting defaults.
func DefaultConfig(venue string) Config {
	return Config{Venue: venue, Interval: 60 * time.Second, MaxDriftBps: decimal.NewFromInt(50)}
}

// Syncer polls VenueSource on Config.Interval and compares it against
// ledger, publishing corrective account.balance.adjusted events when
// drift exceeds MaxDriftBps and MutatesLedger is set.
type Syncer struct {
	bus    *events.Bus
	clk    clock.Clock
	source VenueSource
	ledger *account.State
	cfg    Config

	mu              sync.Mutex
	lastDriftBps    decimal.Decimal
	consecutiveFail int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer creates a balance syncer. ledger is read (never written
// directly); corrections flow through the bus like any other balance
// adjustment so account.State's fold stays the single point of mutation.
func NewSyncer(bus *events.Bus, clk clock.Clock, source VenueSource, ledger *account.State, cfg Config) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Syncer{bus: bus, clk: clk, source: source, ledger: ledger, cfg: cfg}
}

// Start begins the poll loop.
func (s *Syncer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sync(runCtx)
			}
		}
	}()
}

func (s *Syncer) sync(ctx context.Context) {
	venueBalances, err := s.source.FetchBalance(ctx)
	if err != nil {
		s.mu.Lock()
		s.consecutiveFail++
		s.mu.Unlock()
		metrics.BalanceSyncStatus.Set(0)
		metrics.BalanceSyncFailures.Inc()
		log.Printf("accounting: balance sync for %s failed: %v", s.cfg.Venue, err)
		return
	}

	s.mu.Lock()
	s.consecutiveFail = 0
	s.mu.Unlock()

	var maxDriftBps decimal.Decimal
	for asset, venueTotal := range venueBalances {
		ledgerTotal := s.ledger.Balance(s.cfg.Venue, asset).Total
		drift := venueTotal.Sub(ledgerTotal).Abs()
		driftBps := decimal.Zero
		if !ledgerTotal.IsZero() {
			driftBps = drift.Div(ledgerTotal.Abs()).Mul(decimal.NewFromInt(10000))
		} else if !venueTotal.IsZero() {
			driftBps = decimal.NewFromInt(10000) // ledger has nothing but venue does: full drift
		}
		if driftBps.GreaterThan(maxDriftBps) {
			maxDriftBps = driftBps
		}

		if s.cfg.MutatesLedger && driftBps.GreaterThan(s.cfg.MaxDriftBps) {
			s.publishCorrection(asset, venueTotal.Sub(ledgerTotal))
		}
	}

	s.mu.Lock()
	s.lastDriftBps = maxDriftBps
	s.mu.Unlock()

	metrics.BalanceSyncStatus.Set(1)
	metrics.BalanceSyncLastSuccess.Set(float64(s.clk.NowMs()))
	metrics.BalanceSyncDriftBps.Set(driftFloat(maxDriftBps))
}

func (s *Syncer) publishCorrection(asset string, delta decimal.Decimal) {
	s.bus.Publish(events.DomainEvent{
		ID:   clock.NewID(),
		Type: events.TypeAccountBalanceAdjust,
		Data: account.BalanceAdjustment{
			Venue: s.cfg.Venue, Asset: asset, Delta: delta,
			Reason: "balance-sync-correction",
		},
		Ts: s.clk.Now(),
	})
}

// LastDriftBps returns the most recently observed max drift across assets.
func (s *Syncer) LastDriftBps() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDriftBps
}

func driftFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Close stops the poll loop.
func (s *Syncer) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}
