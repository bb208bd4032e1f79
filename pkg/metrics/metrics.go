// Package metrics registers every named metric in spec.md §6 against the
// default Prometheus registry, adapted from the teacher's monitor package
// (which hand-rolled atomic counters) onto a real Prometheus client so
// controlplane's /metrics endpoint has something to expose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticksIngested", Help: "Total market ticks ingested across all feeds.",
	})
	OrdersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersSubmitted", Help: "Total orders submitted to venue adapters.",
	})
	RiskRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskRejected", Help: "Total intents rejected by the risk pipeline.",
	})
	PortfolioNav = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolioNav", Help: "Current book-wide net asset value.",
	})

	FeedStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedStatus", Help: "1 if the feed is connected, 0 otherwise.",
	}, []string{"feed"})
	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedReconnects", Help: "Total reconnect attempts per feed.",
	}, []string{"feed"})
	FeedTickAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedTickAge", Help: "Age in ms of the most recent tick per feed.",
	}, []string{"feed"})

	PersistenceQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "persistenceQueueDepth", Help: "Current depth of the persistence worker's queue.",
	})
	PersistenceQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistenceQueueDrops", Help: "Total non-critical events dropped on queue overflow.",
	})
	PersistenceInlineWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistenceInlineWrites", Help: "Total critical events written via the synchronous retry path.",
	})

	ExecutionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executionRetries", Help: "Total submit retries per venue.",
	}, []string{"venue"})
	ExecutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executionFailures", Help: "Total submit failures per venue and reason.",
	}, []string{"venue", "reason"})
	ExecutionCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "executionCircuitState", Help: "0 closed, 0.5 half-open, 1 open, per venue.",
	}, []string{"venue"})
	ExecutionCircuitTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executionCircuitTrips", Help: "Total circuit-open trips per venue.",
	}, []string{"venue"})
	ExecutionPendingIntents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "executionPendingIntents", Help: "Currently outstanding (unterminated) intents per venue.",
	}, []string{"venue"})
	ExecutionStaleIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "executionStaleIntents", Help: "Total stale-intent forced cancels per venue and reason.",
	}, []string{"venue", "reason"})

	BalanceSyncStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balanceSyncStatus", Help: "1 if the last balance sync succeeded, 0 otherwise.",
	})
	BalanceSyncLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balanceSyncLastSuccess", Help: "Unix ms of the last successful balance sync.",
	})
	BalanceSyncDriftBps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balanceSyncDriftBps", Help: "Drift in bps between ledger and venue balance at last sync.",
	})
	BalanceSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balanceSyncFailures", Help: "Total balance sync failures.",
	})
)
