// Package oracle computes the basket index value from live price feeds.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/pyth"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
	"github.com/cap5/settlement_service/pkg/tracing"
)

var tracer = tracing.Tracer("oracle")

// DefaultCacheTTL is how long a computed index value is served without refetching
const DefaultCacheTTL = 45 * time.Second

var hundred = decimal.NewFromInt(100)

// PriceSource fetches the latest prices for a list of feed ids
type PriceSource interface {
	GetLatestPrices(ctx context.Context, feedIDs []string) ([]pyth.PriceFeed, error)
}

// AssetPrice is one basket member's contribution to the index
type AssetPrice struct {
	Symbol   string  `json:"symbol"`
	FeedID   string  `json:"feedId"`
	Price    float64 `json:"price"`
	Baseline float64 `json:"baseline"`
	Ratio    float64 `json:"ratio"`
}

// Snapshot is a computed index value with its per-asset breakdown
type Snapshot struct {
	IndexValue float64      `json:"indexValue"`
	Assets     []AssetPrice `json:"assets"`
	ComputedAt time.Time    `json:"computedAt"`
}

// Config selects the feeds and the cache window
type Config struct {
	FeedIDs  []string
	CacheTTL time.Duration
}

// Service resolves the index value with a single cached slot
type Service struct {
	source  PriceSource
	feedIDs []string
	assets  map[string]Asset
	ttl     time.Duration
	clock   clock.Clock
	logger  *logger.Logger

	mu        sync.Mutex
	cached    *Snapshot
	expiresAt time.Time
}

// NewService creates an oracle over basket. Every configured feed id must be
// a basket member.
func NewService(source PriceSource, basket []Asset, cfg Config, clk clock.Clock, log *logger.Logger) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	assets := make(map[string]Asset, len(basket))
	for _, a := range basket {
		assets[pyth.NormalizeID(a.FeedID)] = a
	}

	ids := cfg.FeedIDs
	if len(ids) == 0 {
		for _, a := range basket {
			ids = append(ids, a.FeedID)
		}
	}

	feedIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		a, ok := assets[pyth.NormalizeID(id)]
		if !ok {
			return nil, fmt.Errorf("price feed %s is not a basket member", id)
		}
		if !a.Baseline.IsPositive() {
			return nil, fmt.Errorf("basket member %s has no baseline price", a.Symbol)
		}
		feedIDs = append(feedIDs, "0x"+pyth.NormalizeID(id))
	}
	if len(feedIDs) == 0 {
		return nil, fmt.Errorf("no price feeds configured")
	}

	return &Service{
		source:  source,
		feedIDs: feedIDs,
		assets:  assets,
		ttl:     cfg.CacheTTL,
		clock:   clk,
		logger:  log,
	}, nil
}

// GetIndexValue returns 100 times the mean of price/baseline ratios
func (s *Service) GetIndexValue(ctx context.Context) (float64, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.IndexValue, nil
}

// Snapshot returns the cached breakdown or refetches once the window lapses
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.clock.Now().Before(s.expiresAt) {
		metrics.OracleCacheHits.Inc()
		return s.cached, nil
	}

	ctx, span := tracer.Start(ctx, "oracle.Snapshot",
		trace.WithAttributes(attribute.Int("feeds", len(s.feedIDs))))
	defer span.End()

	feeds, err := s.source.GetLatestPrices(ctx, s.feedIDs)
	if err != nil {
		span.RecordError(err)
		metrics.OracleFetches.WithLabelValues("error").Inc()
		return nil, domainerrors.UpstreamError("pyth", err)
	}

	snap, err := s.compute(feeds)
	if err != nil {
		span.RecordError(err)
		metrics.OracleFetches.WithLabelValues("malformed").Inc()
		return nil, err
	}
	metrics.OracleFetches.WithLabelValues("ok").Inc()
	metrics.IndexValue.Set(snap.IndexValue)
	span.SetAttributes(attribute.Float64("index_value", snap.IndexValue))

	s.cached = snap
	s.expiresAt = snap.ComputedAt.Add(s.ttl)

	s.logger.Debug("Index value refreshed",
		"index_value", snap.IndexValue,
		"assets", len(snap.Assets))

	return snap, nil
}

func (s *Service) compute(feeds []pyth.PriceFeed) (*Snapshot, error) {
	if len(feeds) == 0 {
		return nil, domainerrors.MalformedPriceError("empty price response")
	}

	byID := make(map[string]pyth.PriceFeed, len(feeds))
	for _, f := range feeds {
		byID[pyth.NormalizeID(f.ID)] = f
	}

	sum := decimal.Zero
	assets := make([]AssetPrice, 0, len(s.feedIDs))
	for _, id := range s.feedIDs {
		key := pyth.NormalizeID(id)
		asset := s.assets[key]
		feed, ok := byID[key]
		if !ok {
			return nil, domainerrors.MalformedPriceError("missing price for " + asset.Symbol)
		}
		if !feed.Price.IsPositive() {
			return nil, domainerrors.MalformedPriceError("non-positive price for " + asset.Symbol)
		}

		ratio := feed.Price.Div(asset.Baseline)
		sum = sum.Add(ratio)
		assets = append(assets, AssetPrice{
			Symbol:   asset.Symbol,
			FeedID:   key,
			Price:    feed.Price.InexactFloat64(),
			Baseline: asset.Baseline.InexactFloat64(),
			Ratio:    ratio.InexactFloat64(),
		})
	}

	for id := range byID {
		if _, ok := s.assets[id]; !ok {
			return nil, domainerrors.MalformedPriceError("unknown feed id " + id)
		}
	}

	index := hundred.Mul(sum).Div(decimal.NewFromInt(int64(len(assets))))
	return &Snapshot{
		IndexValue: index.InexactFloat64(),
		Assets:     assets,
		ComputedAt: s.clock.Now(),
	}, nil
}
