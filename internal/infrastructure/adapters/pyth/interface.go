package pyth

import "context"

// PriceClient defines the Hermes price service operations
type PriceClient interface {
	// GetLatestPrices fetches the latest price for every feed id in one request
	GetLatestPrices(ctx context.Context, feedIDs []string) ([]PriceFeed, error)
}

var _ PriceClient = (*Client)(nil)
