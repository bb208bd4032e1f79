// Package controlplane is the Control-Plane Surface (spec.md C21): a
// read-only HTTP query layer backed by the running projections
// (portfolio, account, telemetry) and the event bus, adapted from the
// teacher's gin-based internal/api.Server and its middleware stack.
package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-core/internal/account"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/execution"
	"trading-core/internal/portfolio"
	"trading-core/internal/reconciler"
	"trading-core/internal/riskbreach"
	"trading-core/internal/telemetry"
)

// RuntimeFlags reports overall readiness for the /status endpoint and
// the 503-on-not-ready status code contract (spec.md §6).
type RuntimeFlags struct {
	Ready    bool
	Degraded bool
	Killed   bool
}

// BacktestArtifact is a placeholder record surfaced by the artifact
// endpoints; no backtest runner is wired in this runtime (spec.md's
// Non-goals exclude historical backtesting beyond tick replay), so this
// store only ever holds what a caller explicitly records.
type BacktestArtifact struct {
	ID        string
	CreatedAt int64
	Summary   string
}

// Dependencies bundles every projection/component the surface reads.
// All fields are read-only from the server's perspective.
type Dependencies struct {
	Bus         *events.Bus
	Book        *portfolio.Book
	Account     *account.State
	Telemetry   *telemetry.Tracker
	Breach      *riskbreach.Monitor
	Reconciler  *reconciler.Reconciler
	Policies    map[string]*execution.Policy // keyed by venue
	Flags       func() RuntimeFlags
	Artifacts   []BacktestArtifact
}

// Server exposes the read-only HTTP surface.
type Server struct {
	router *gin.Engine
	deps   Dependencies

	mu        sync.RWMutex
	recentLog []string
}

// NewServer builds the gin router and registers every route in §6.
func NewServer(deps Dependencies) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger())
	r.Use(rateLimit())

	s := &Server{router: r, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/status", s.status)
	s.router.GET("/pnl", s.pnl)
	s.router.GET("/positions", s.positions)
	s.router.GET("/orders/recent", s.ordersRecent)
	s.router.GET("/events/recent", s.eventsRecent)
	s.router.GET("/logs", s.logs)
	s.router.GET("/events", s.eventsStream)
	s.router.GET("/account/balances", s.balances)
	s.router.GET("/account/margin", s.margin)
	s.router.GET("/trades", s.trades)
	s.router.GET("/backtest/artifacts", s.artifacts)
	s.router.GET("/backtest/artifacts/history", s.artifactsHistory)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/strategies", s.strategies)
	s.router.GET("/execution/circuit", s.executionCircuit)
	s.router.GET("/reconciler/stale", s.reconcilerStale)
}

// Start runs the HTTP server on addr, blocking until it errors or ctx
// is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) status(c *gin.Context) {
	flags := RuntimeFlags{Ready: true}
	if s.deps.Flags != nil {
		flags = s.deps.Flags()
	}
	if s.deps.Breach != nil {
		flags.Killed = s.deps.Breach.Killed()
	}
	if !flags.Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":    flags.Ready,
		"degraded": flags.Degraded,
		"killed":   flags.Killed,
	})
}

func (s *Server) pnl(c *gin.Context) {
	if s.deps.Book == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio not ready"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Book.Analytics())
}

func (s *Server) positions(c *gin.Context) {
	if s.deps.Book == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio not ready"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Book.Snapshot().Positions)
}

func (s *Server) ordersRecent(c *gin.Context) {
	limit, err := limitParam(c, 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"limit": limit, "orders": []domain.OrderIntent{}})
}

func (s *Server) eventsRecent(c *gin.Context) {
	limit, err := limitParam(c, 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"limit": limit, "events": []events.DomainEvent{}})
}

func (s *Server) logs(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"logs": s.recentLog})
}

// eventsStream serves a server-sent event stream of every published
// DomainEvent (spec.md §6: `/events` SSE).
func (s *Server) eventsStream(c *gin.Context) {
	if s.deps.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bus not ready"})
		return
	}
	ch, unsub := s.deps.Bus.SubscribeAll(256)
	defer unsub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Type, mustJSON(e))
			flusher.Flush()
		}
	}
}

func (s *Server) balances(c *gin.Context) {
	if s.deps.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "account state not ready"})
		return
	}
	venue := c.Query("venue")
	asset := c.Query("asset")
	if venue == "" || asset == "" {
		c.JSON(http.StatusOK, gin.H{"note": "pass ?venue=&asset= for a single balance"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Account.Balance(venue, asset))
}

func (s *Server) margin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"margin": "not enabled"})
}

func (s *Server) trades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": []domain.Fill{}})
}

func (s *Server) artifacts(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Artifacts)
}

func (s *Server) artifactsHistory(c *gin.Context) {
	limit, err := limitParam(c, 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	artifacts := s.deps.Artifacts
	if len(artifacts) > limit {
		artifacts = artifacts[len(artifacts)-limit:]
	}
	c.JSON(http.StatusOK, artifacts)
}

func limitParam(c *gin.Context, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}

func (s *Server) executionCircuit(c *gin.Context) {
	out := make(map[string]execution.Metrics, len(s.deps.Policies))
	for venue, p := range s.deps.Policies {
		out[venue] = p.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) reconcilerStale(c *gin.Context) {
	if s.deps.Reconciler == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Reconciler.Metrics.Snapshot())
}

func (s *Server) strategies(c *gin.Context) {
	if s.deps.Telemetry == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Telemetry.Snapshot())
}
