package ports

import (
	"context"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// MarketProvider discovers sports/esports markets to watch.
type MarketProvider interface {
	// FetchSportsMarkets returns the current set of candidate markets.
	FetchSportsMarkets(ctx context.Context) ([]domain.WatchedMarket, error)
}

// BookProvider fetches current top-of-book prices for token IDs.
type BookProvider interface {
	// FetchTops returns best bid/ask per token id. Missing tokens are
	// simply absent from the map.
	FetchTops(ctx context.Context, tokenIDs []string) (map[string]domain.PriceUpdate, error)
}
