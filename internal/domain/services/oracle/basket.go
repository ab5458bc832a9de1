package oracle

import "github.com/shopspring/decimal"

// Asset is one basket member with its launch-date reference price
type Asset struct {
	Symbol   string
	FeedID   string
	Baseline decimal.Decimal
}

// DefaultBasket lists the index constituents in feed order. Baselines are the
// USD prices on the index launch date and never change.
var DefaultBasket = []Asset{
	{Symbol: "BTC", FeedID: "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43", Baseline: decimal.RequireFromString("94250.00")},
	{Symbol: "ETH", FeedID: "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", Baseline: decimal.RequireFromString("3335.00")},
	{Symbol: "SOL", FeedID: "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d", Baseline: decimal.RequireFromString("189.50")},
	{Symbol: "BNB", FeedID: "2f95862b045670cd22bee3114c39763a4a08beeb663b145d283c31d7d1101c4f", Baseline: decimal.RequireFromString("702.00")},
	{Symbol: "XRP", FeedID: "ec5d399846a9209f3fe5881d70aae9268c94339ff9817e8d18ff19fa05eea1c8", Baseline: decimal.RequireFromString("2.29")},
}
