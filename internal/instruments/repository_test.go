package instruments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trading-core/internal/domain"
)

func TestRepository_AssetsResolvesBaseQuote(t *testing.T) {
	repo := NewRepository()
	repo.PutSpec(Spec{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromFloat(0.00001)})

	base, quote, ok := repo.Assets("BTCUSDT")
	require.True(t, ok)
	require.Equal(t, "BTC", base)
	require.Equal(t, "USDT", quote)
}

func TestRepository_AssetsUnknownSymbol(t *testing.T) {
	repo := NewRepository()
	_, _, ok := repo.Assets("NOPE")
	require.False(t, ok)
}

func TestRepository_AssetsIncompleteSpec(t *testing.T) {
	repo := NewRepository()
	repo.PutSpec(Spec{Symbol: "ETHUSDT", Base: "ETH"})
	_, _, ok := repo.Assets("ETHUSDT")
	require.False(t, ok)
}

func TestRepository_FeeBpsSpecificOverWildcard(t *testing.T) {
	repo := NewRepository()
	repo.PutFeeSchedule(domain.FeeSchedule{Venue: "binance", Symbol: "*", MakerBps: decimal.NewFromInt(1), TakerBps: decimal.NewFromInt(4)})
	repo.PutFeeSchedule(domain.FeeSchedule{Venue: "binance", Symbol: "BTCUSDT", MakerBps: decimal.NewFromInt(0), TakerBps: decimal.NewFromInt(2)})

	bps, _, ok := repo.FeeBps("binance", "BTCUSDT", domain.Maker)
	require.True(t, ok)
	require.True(t, bps.IsZero())

	bps, _, ok = repo.FeeBps("binance", "ETHUSDT", domain.Taker)
	require.True(t, ok)
	require.True(t, bps.Equal(decimal.NewFromInt(4)))

	_, _, ok = repo.FeeBps("binance", "ETHUSDT", domain.Maker)
	require.True(t, ok)
}

func TestRepository_QuantizePriceAndQty(t *testing.T) {
	repo := NewRepository()
	repo.PutSpec(Spec{Symbol: "BTCUSDT", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromFloat(0.001)})

	px := repo.QuantizePrice("BTCUSDT", decimal.NewFromFloat(100.017))
	require.True(t, px.Equal(decimal.NewFromFloat(100.01)))

	qty := repo.QuantizeQty("BTCUSDT", decimal.NewFromFloat(1.0009))
	require.True(t, qty.Equal(decimal.NewFromFloat(1.0)))
}

func TestRepository_QuantizeUnknownSymbolPassesThrough(t *testing.T) {
	repo := NewRepository()
	px := repo.QuantizePrice("UNKNOWN", decimal.NewFromFloat(1.2345))
	require.True(t, px.Equal(decimal.NewFromFloat(1.2345)))
}
