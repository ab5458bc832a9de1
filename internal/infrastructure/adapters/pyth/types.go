package pyth

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LatestPriceResponse is the body of GET /v2/updates/price/latest
type LatestPriceResponse struct {
	Parsed []ParsedPriceUpdate `json:"parsed"`
}

type ParsedPriceUpdate struct {
	ID       string     `json:"id"`
	Price    PriceValue `json:"price"`
	EMAPrice PriceValue `json:"ema_price"`
}

// PriceValue carries a fixed-point price as an integer string and exponent
type PriceValue struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

// Decimal converts the fixed-point price into a decimal
func (p PriceValue) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(p.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", p.Price, err)
	}
	return d.Shift(p.Expo), nil
}

// PriceFeed is one resolved feed price
type PriceFeed struct {
	ID          string
	Price       decimal.Decimal
	PublishTime int64
}

// NormalizeID lowercases a feed id and strips any 0x prefix
func NormalizeID(id string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(id)), "0x")
}
