package accounting

import (
	"context"

	"github.com/shopspring/decimal"

	"trading-core/pkg/exchanges/binance/spot"
)

// SpotVenueSource adapts a Binance spot client's GetAccountInfo into a
// VenueSource, summing free+locked per asset into one total (the sync
// loop only watches aggregate drift, not the lock/available split, since
// that split is the ledger's concern via account.State.Balance).
type SpotVenueSource struct {
	client *spot.Client
}

// NewSpotVenueSource wraps client as a VenueSource.
func NewSpotVenueSource(client *spot.Client) *SpotVenueSource {
	return &SpotVenueSource{client: client}
}

func (s *SpotVenueSource) FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	info, err := s.client.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal, len(info.Balances))
	for _, b := range info.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		totals[b.Asset] = free.Add(locked)
	}
	return totals, nil
}
