package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/account"
	"trading-core/internal/accounting"
	"trading-core/internal/clock"
	"trading-core/internal/controlplane"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/eventstore"
	"trading-core/internal/execution"
	"trading-core/internal/exit"
	"trading-core/internal/feed"
	"trading-core/internal/gateway"
	"trading-core/internal/instruments"
	"trading-core/internal/intent"
	"trading-core/internal/persistence"
	"trading-core/internal/portfolio"
	"trading-core/internal/reconciler"
	"trading-core/internal/risk"
	"trading-core/internal/riskbreach"
	"trading-core/internal/strategy"
	"trading-core/internal/telemetry"
	"trading-core/pkg/config"
	exspot "trading-core/pkg/exchanges/binance/spot"
)

// venue is the single account this runtime trades for. The teacher's
// multi-user, multi-connection model is replaced per SPEC_FULL.md with
// one account per deployment; every venue-labeled component below is
// pinned to this string.
const venue = "binance-spot"

func main() {
	env, err := config.Load()
	if err != nil {
		log.Fatalf("main: load env config: %v", err)
	}
	tree, err := config.LoadTree(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("main: load config tree: %v", err)
	}

	clk := clock.Real{}
	bus := events.NewBus()

	store, err := openStore(tree.Persistence)
	if err != nil {
		log.Fatalf("main: open event store: %v", err)
	}
	worker := persistence.NewWorker(store, tree.Persistence.QueueCapacity, persistence.DropOldestNonCritical)

	allEvents, unsubAll := bus.SubscribeAll(8192)
	defer unsubAll()
	go func() {
		for e := range allEvents {
			worker.Enqueue(e)
		}
	}()

	repo := instruments.NewRepository()
	seedInstruments(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- feed ---
	feedMgr := feed.NewManager(bus, clk)
	for _, adapter := range buildFeedAdapters(env) {
		feedMgr.Add(adapter)
	}
	feedMgr.Start(ctx)
	go bridgeTicks(ctx, bus, feedMgr)

	// --- strategy ---
	strategyCtx := strategy.Context{}
	strategyRunner := strategy.NewRunner(bus, clk, strategyCtx)
	for _, sc := range tree.Strategies {
		s, err := buildStrategy(sc)
		if err != nil {
			log.Printf("main: skipping strategy %s: %v", sc.ID, err)
			continue
		}
		strategyRunner.Add(s, sc.Mode == "sandbox")
	}
	strategyRunner.Start(ctx)

	// --- intent ---
	intentBuilder := intent.NewBuilder(clk, repo, venue)
	intentPolicies := buildIntentPolicies(tree.Strategies)
	intentRunner := intent.NewRunner(bus, clk, intentBuilder, func(id string) intent.Policy {
		if p, ok := intentPolicies[id]; ok {
			return p
		}
		return intent.DefaultPolicy()
	})
	intentRunner.Start(ctx)

	// --- account / portfolio projections (rebuilt before anything reads them) ---
	accountLedger := account.NewState()
	if err := accountLedger.Rebuild(ctx, store); err != nil {
		log.Fatalf("main: rebuild account ledger: %v", err)
	}
	book := portfolio.NewBook(bus, clk, time.Second)
	book.Start(ctx)

	// --- risk-breach monitor (started early: the risk runner consults its
	// kill switch before publishing order.new) ---
	breach := riskbreach.New(bus, clk, book, riskbreach.DefaultConfig())
	breach.Start(ctx)

	// --- risk ---
	baseRisk := toDomainRiskConfig(tree.Risk)
	marginCfg := risk.MarginConfig{} // spot-only deployment: margin checks disabled
	pipeline := risk.NewPipeline(bus, clk, baseRisk, marginCfg, venue,
		book.MarkPrice, book.Position, accountLedger.Available, repo.Assets)
	for _, sc := range tree.Strategies {
		if b, ok := toBudget(sc.Budget); ok {
			pipeline.SetBudget(sc.ID, b)
		}
	}
	riskRunner := risk.NewRunner(bus, clk, pipeline, breach.Killed)
	riskRunner.Start(ctx)

	// --- execution ---
	adapter, spotClient, err := buildExecutionAdapter(env, clk)
	if err != nil {
		log.Fatalf("main: build execution adapter: %v", err)
	}
	policy := execution.NewPolicy(adapter, toRetryConfig(tree.Execution.Reliability.Retry),
		toBreakerConfig(tree.Execution.Reliability.CircuitBreaker), clk)
	execRunner := execution.NewRunner(bus, clk, policy)
	execRunner.Start(ctx)

	recon := reconciler.New(bus, clk, venue, adapter.Cancel, toReconcilerConfig(tree.Execution.Reliability.Reconciliation))
	recon.Start(ctx)

	fillAccounting := account.NewFillAccounting(bus, clk, venue, repo.Assets)
	fillAccounting.Start(ctx)

	// --- accounting (balance sync) ---
	var syncer *accounting.Syncer
	if spotClient != nil {
		cfg := accounting.Config{
			Venue:         venue,
			Interval:      time.Duration(tree.Accounting.BalanceSyncIntervalMs) * time.Millisecond,
			MaxDriftBps:   decimal.NewFromFloat(tree.Accounting.BalanceSyncMaxDriftBps),
			MutatesLedger: tree.Accounting.BalanceSyncMutatesLedger,
		}
		syncer = accounting.NewSyncer(bus, clk, accounting.NewSpotVenueSource(spotClient), accountLedger, cfg)
		syncer.Start(ctx)
	}

	// --- exit ---
	exitConfigs := buildExitConfigs(tree.Strategies)
	exitRunner := exit.NewRunner(bus, clk, book, func(id string) (exit.Config, bool) {
		c, ok := exitConfigs[id]
		return c, ok
	})
	exitRunner.Start(ctx)

	// --- telemetry ---
	tracker := telemetry.NewTracker(bus, clk)
	tracker.Start(ctx)

	// --- control plane ---
	server := controlplane.NewServer(controlplane.Dependencies{
		Bus:        bus,
		Book:       book,
		Account:    accountLedger,
		Telemetry:  tracker,
		Breach:     breach,
		Reconciler: recon,
		Policies:   map[string]*execution.Policy{venue: policy},
		Flags: func() controlplane.RuntimeFlags {
			killed := breach.Killed()
			degraded := killed || worker.Snapshot().Fatal == 1
			return controlplane.RuntimeFlags{Ready: true, Degraded: degraded, Killed: killed}
		},
	})
	go func() {
		addr := fmt.Sprintf(":%d", tree.Gateway.Port)
		if err := server.Start(ctx, addr); err != nil {
			log.Printf("main: control plane server stopped: %v", err)
		}
	}()

	log.Printf("main: trading-core runtime started (venue=%s, gateway=:%d)", venue, tree.Gateway.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Print("main: shutdown signal received, draining")

	cancel()
	feedMgr.Stop()
	strategyRunner.Close()
	intentRunner.Close()
	riskRunner.Close()
	execRunner.Close()
	recon.Close()
	fillAccounting.Close()
	if syncer != nil {
		syncer.Close()
	}
	exitRunner.Close()
	breach.Close()
	tracker.Close()
	book.Close()
	accountLedger.Close()
	worker.Shutdown(context.Background())
}

func openStore(cfg config.PersistenceConfig) (eventstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return eventstore.NewMemoryStore(), nil
	case "file":
		return eventstore.OpenFileStore(cfg.SqlitePath)
	case "sqlite":
		return eventstore.OpenSQLiteStore(cfg.SqlitePath)
	case "mysql":
		return eventstore.OpenMySQLStore(cfg.SqlitePath)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

func seedInstruments(repo *instruments.Repository) {
	repo.PutSpec(instruments.Spec{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromFloat(0.00001)})
	repo.PutSpec(instruments.Spec{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromFloat(0.0001)})
	repo.PutFeeSchedule(domain.FeeSchedule{Venue: venue, Symbol: "*", MakerBps: decimal.NewFromFloat(1), TakerBps: decimal.NewFromFloat(4)})
}

func buildFeedAdapters(env *config.Config) []feed.Adapter {
	if env.UseMockFeed || len(env.BinanceSymbols) == 0 {
		adapters := make([]feed.Adapter, 0, len(env.BinanceSymbols))
		for i, symbol := range env.BinanceSymbols {
			start := 100.0 + float64(i)*10
			adapters = append(adapters, feed.NewMockAdapter(venue, symbol, start, 0.05, time.Second))
		}
		if len(adapters) == 0 {
			adapters = append(adapters, feed.NewMockAdapter(venue, "BTCUSDT", 60000, 10, time.Second))
		}
		return adapters
	}
	adapters := make([]feed.Adapter, 0, len(env.BinanceSymbols))
	for _, symbol := range env.BinanceSymbols {
		url := fmt.Sprintf("wss://stream.binance.com:9443/ws/%s@bookTicker", symbol)
		adapters = append(adapters, feed.NewWSAdapter(venue, symbol, url))
	}
	return adapters
}

func bridgeTicks(ctx context.Context, bus *events.Bus, mgr *feed.Manager) {
	marks := mgr.Marks()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-marks:
			if !ok {
				return
			}
			bus.Publish(events.DomainEvent{
				ID:   clock.NewID(),
				Type: events.TypeMarketTick,
				Data: tick,
				Ts:   time.UnixMilli(tick.T),
			})
		}
	}
}

func buildStrategy(sc config.StrategyConfig) (strategy.Strategy, error) {
	switch sc.Type {
	case "momentum":
		fast := intParam(sc.Params, "fastPeriod", 12)
		slow := intParam(sc.Params, "slowPeriod", 26)
		return strategy.NewMomentum(sc.ID, sc.TradeSymbol, fast, slow), nil
	case "rsi":
		period := intParam(sc.Params, "period", 14)
		oversold := floatParam(sc.Params, "oversold", 30)
		overbought := floatParam(sc.Params, "overbought", 70)
		return strategy.NewRSI(sc.ID, sc.TradeSymbol, period, oversold, overbought), nil
	case "bollinger":
		period := intParam(sc.Params, "period", 20)
		numStdDev := floatParam(sc.Params, "numStdDev", 2)
		return strategy.NewBollinger(sc.ID, sc.TradeSymbol, period, numStdDev), nil
	case "arbitrage":
		secondary := stringParam(sc.Params, "secondaryVenue", venue)
		minEdge := decimal.NewFromFloat(floatParam(sc.Params, "minEdgeBps", 10))
		return strategy.NewArbitrage(sc.ID, sc.TradeSymbol, venue, secondary, minEdge), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

func intParam(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func buildIntentPolicies(strategies []config.StrategyConfig) map[string]intent.Policy {
	out := make(map[string]intent.Policy, len(strategies))
	for _, sc := range strategies {
		p := intent.DefaultPolicy()
		p.Account = venue
		out[sc.ID] = p
	}
	return out
}

func toDomainRiskConfig(c config.RiskConfig) domain.RiskConfig {
	bands := make(map[string]domain.PriceBand, len(c.PriceBands))
	for symbol, b := range c.PriceBands {
		bands[symbol] = domain.PriceBand{Min: decimal.NewFromFloat(b.Min), Max: decimal.NewFromFloat(b.Max)}
	}
	return domain.RiskConfig{
		Notional:    decimal.NewFromFloat(c.Notional),
		MaxPosition: decimal.NewFromFloat(c.MaxPosition),
		PriceBands:  bands,
		Throttle:    domain.Throttle{WindowMs: c.Throttle.WindowMs, MaxCount: c.Throttle.MaxCount},
	}
}

func toBudget(m map[string]float64) (risk.Budget, bool) {
	if len(m) == 0 {
		return risk.Budget{}, false
	}
	b := risk.Budget{}
	if v, ok := m["notional"]; ok {
		b.Notional = decimal.NewFromFloat(v)
	}
	if v, ok := m["maxPosition"]; ok {
		b.MaxPosition = decimal.NewFromFloat(v)
	}
	return b, true
}

func buildExitConfigs(strategies []config.StrategyConfig) map[string]exit.Config {
	out := make(map[string]exit.Config, len(strategies))
	for _, sc := range strategies {
		e := sc.Exit
		out[sc.ID] = exit.Config{
			MaxSymbolExposureUsd: decimal.NewFromFloat(e.MaxSymbolExposureUsd),
			MaxGrossExposureUsd:  decimal.NewFromFloat(e.MaxGrossExposureUsd),
			MaxDrawdownPct:       decimal.NewFromFloat(e.MaxDrawdownPct),
			MarginBufferPct:      decimal.NewFromFloat(e.MarginBufferPct),
			MinHoldMs:            e.MinHoldMs,
			MaxHoldMs:            e.MaxHoldMs,
			EpsilonBps:           decimal.NewFromFloat(e.EpsilonBps),
			SigmaLookback:        e.SigmaLookback,
			TPSigma:              decimal.NewFromFloat(e.TPSigma),
			SLSigma:              decimal.NewFromFloat(e.SLSigma),
			InitArmPnLSigma:      decimal.NewFromFloat(e.InitArmPnLSigma),
			RetracePct:           decimal.NewFromFloat(e.RetracePct),
		}
	}
	return out
}

func toRetryConfig(c config.RetryConfig) execution.RetryConfig {
	r := execution.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		r.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMs > 0 {
		r.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		r.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.Jitter > 0 {
		r.Jitter = c.Jitter
	}
	return r
}

func toBreakerConfig(c config.CircuitBreakerConfig) execution.BreakerConfig {
	b := execution.DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		b.FailureThreshold = c.FailureThreshold
	}
	if c.CooldownMs > 0 {
		b.CooldownMs = int64(c.CooldownMs)
	}
	if c.HalfOpenMaxSuccesses > 0 {
		b.HalfOpenMaxSuccesses = c.HalfOpenMaxSuccesses
	}
	return b
}

func toReconcilerConfig(c config.ReconciliationConfig) reconciler.Config {
	cfg := reconciler.DefaultConfig()
	if c.AckTimeoutMs > 0 {
		cfg.AckTimeoutMs = c.AckTimeoutMs
	}
	if c.FillTimeoutMs > 0 {
		cfg.FillTimeoutMs = c.FillTimeoutMs
	}
	if c.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(c.PollIntervalMs) * time.Millisecond
	}
	return cfg
}

// buildExecutionAdapter returns the Adapter that order submission flows
// through, plus the underlying spot client when one was built (so the
// balance syncer can share the same authenticated connection) — nil when
// trading is disabled and the paper adapter is used instead.
func buildExecutionAdapter(env *config.Config, clk clock.Clock) (execution.Adapter, *exspot.Client, error) {
	if !env.EnableBinanceTrading {
		return execution.NewPaperAdapter(venue, clk, "", 50*time.Millisecond), nil, nil
	}
	if env.EnableBinanceUSDTFutures {
		gw, err := gateway.New(gateway.BinanceUSDTFut, env.BinanceUSDTKey, env.BinanceUSDTSecret, env.BinanceTestnet)
		if err != nil {
			return nil, nil, err
		}
		return execution.NewLiveAdapter(venue, gw, clk), nil, nil
	}
	spotClient := exspot.New(exspot.Config{APIKey: env.BinanceAPIKey, APISecret: env.BinanceAPISecret, Testnet: env.BinanceTestnet})
	return execution.NewLiveAdapter(venue, spotClient, clk), spotClient, nil
}
