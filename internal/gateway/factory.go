// Package gateway selects a concrete venue client (pkg/exchanges) for a
// single-account deployment, adapted from the teacher's connection-pooled,
// multi-user DefaultFactory down to the one-account-per-process model
// SPEC_FULL.md's execution.account config assumes.
package gateway

import (
	"fmt"

	exfutusdt "trading-core/pkg/exchanges/binance/futures_usdt"
	exspot "trading-core/pkg/exchanges/binance/spot"
	exchange "trading-core/pkg/exchanges/common"
)

// ExchangeType names a supported venue/market combination. Coin-margined
// futures have no client in pkg/exchanges and are not offered here; adding
// one is a future venue, not a gap in this one.
type ExchangeType string

const (
	BinanceSpot    ExchangeType = "binance-spot"
	BinanceUSDTFut ExchangeType = "binance-usdtfut"
)

// New creates a Gateway for exchangeType with the given credentials.
func New(exchangeType ExchangeType, apiKey, apiSecret string, testnet bool) (exchange.Gateway, error) {
	switch exchangeType {
	case BinanceSpot:
		return exspot.New(exspot.Config{APIKey: apiKey, APISecret: apiSecret, Testnet: testnet}), nil
	case BinanceUSDTFut:
		return exfutusdt.NewClient(exfutusdt.Config{APIKey: apiKey, APISecret: apiSecret, Testnet: testnet}), nil
	default:
		return nil, fmt.Errorf("gateway: unsupported exchange type %q", exchangeType)
	}
}
