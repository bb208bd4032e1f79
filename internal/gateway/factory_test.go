package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_UnsupportedExchangeType(t *testing.T) {
	_, err := New("bybit-spot", "key", "secret", true)
	require.Error(t, err)
}

func TestNew_BinanceSpotAndUSDTFut(t *testing.T) {
	gw, err := New(BinanceSpot, "key", "secret", true)
	require.NoError(t, err)
	require.NotNil(t, gw)

	gw, err = New(BinanceUSDTFut, "key", "secret", true)
	require.NoError(t, err)
	require.NotNil(t, gw)
}
