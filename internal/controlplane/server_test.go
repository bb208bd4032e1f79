package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/clock"
	"trading-core/internal/events"
	"trading-core/internal/portfolio"
)

func TestServer_StatusReadyWhenFlagsNil(t *testing.T) {
	s := NewServer(Dependencies{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StatusNotReady(t *testing.T) {
	s := NewServer(Dependencies{Flags: func() RuntimeFlags { return RuntimeFlags{Ready: false} }})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PnlReflectsBook(t *testing.T) {
	bus := events.NewBus()
	clk := clock.NewFixed(time.Unix(0, 0))
	book := portfolio.NewBook(bus, clk, 0)
	book.SeedCash(decimal.NewFromInt(1000))

	s := NewServer(Dependencies{Book: book})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pnl", nil)
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"Cash\":\"1000\"")
}

func TestServer_OrdersRecentRejectsBadLimit(t *testing.T) {
	s := NewServer(Dependencies{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/recent?limit=nope", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MetricsExposition(t *testing.T) {
	s := NewServer(Dependencies{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
