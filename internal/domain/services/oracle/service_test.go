package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/pyth"
	"github.com/cap5/settlement_service/pkg/logger"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetLatestPrices(ctx context.Context, feedIDs []string) ([]pyth.PriceFeed, error) {
	args := m.Called(ctx, feedIDs)
	if f := args.Get(0); f != nil {
		return f.([]pyth.PriceFeed), args.Error(1)
	}
	return nil, args.Error(1)
}

var testBasket = []Asset{
	{Symbol: "AAA", FeedID: "0xAA", Baseline: decimal.NewFromInt(100)},
	{Symbol: "BBB", FeedID: "bb", Baseline: decimal.NewFromInt(10)},
}

func feed(id string, price int64) pyth.PriceFeed {
	return pyth.PriceFeed{ID: id, Price: decimal.NewFromInt(price)}
}

func newTestService(t *testing.T, src PriceSource, clk clock.Clock) *Service {
	t.Helper()
	svc, err := NewService(src, testBasket, Config{CacheTTL: DefaultCacheTTL}, clk, logger.NewLogger(nil))
	require.NoError(t, err)
	return svc
}

func TestGetIndexValue(t *testing.T) {
	t.Run("equal weighted mean of ratios", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, []string{"0xaa", "0xbb"}).
			Return([]pyth.PriceFeed{feed("aa", 150), feed("bb", 5)}, nil)

		v, err := newTestService(t, src, clock.NewMock()).GetIndexValue(context.Background())
		require.NoError(t, err)
		// (1.5 + 0.5) / 2 * 100
		assert.InDelta(t, 100, v, 1e-9)
	})

	t.Run("all at baseline is 100", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).
			Return([]pyth.PriceFeed{feed("aa", 100), feed("bb", 10)}, nil)

		v, err := newTestService(t, src, clock.NewMock()).GetIndexValue(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 100, v, 1e-9)
	})

	t.Run("caches for 45 seconds", func(t *testing.T) {
		clk := clock.NewMock()
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).
			Return([]pyth.PriceFeed{feed("aa", 200), feed("bb", 20)}, nil).Once()
		src.On("GetLatestPrices", mock.Anything, mock.Anything).
			Return([]pyth.PriceFeed{feed("aa", 100), feed("bb", 10)}, nil).Once()

		svc := newTestService(t, src, clk)
		ctx := context.Background()

		first, err := svc.GetIndexValue(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 200, first, 1e-9)

		clk.Add(44 * time.Second)
		second, err := svc.GetIndexValue(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		src.AssertNumberOfCalls(t, "GetLatestPrices", 1)

		clk.Add(time.Second)
		third, err := svc.GetIndexValue(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 100, third, 1e-9)
		src.AssertNumberOfCalls(t, "GetLatestPrices", 2)
	})

	t.Run("fetch failure propagates without caching", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

		svc := newTestService(t, src, clock.NewMock())
		_, err := svc.GetIndexValue(context.Background())
		assert.ErrorContains(t, err, "timeout")
		assert.True(t, domainerrors.IsRetryable(err))

		_, err = svc.GetIndexValue(context.Background())
		assert.Error(t, err)
		src.AssertNumberOfCalls(t, "GetLatestPrices", 2)
	})

	t.Run("missing feed is malformed", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).Return([]pyth.PriceFeed{feed("aa", 100)}, nil)

		_, err := newTestService(t, src, clock.NewMock()).GetIndexValue(context.Background())
		assert.ErrorIs(t, err, domainerrors.ErrMalformedPrice)
	})

	t.Run("unknown feed is malformed", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).
			Return([]pyth.PriceFeed{feed("aa", 100), feed("bb", 10), feed("cc", 1)}, nil)

		_, err := newTestService(t, src, clock.NewMock()).GetIndexValue(context.Background())
		assert.ErrorIs(t, err, domainerrors.ErrMalformedPrice)
	})

	t.Run("empty response is malformed", func(t *testing.T) {
		src := new(mockSource)
		src.On("GetLatestPrices", mock.Anything, mock.Anything).Return([]pyth.PriceFeed{}, nil)

		_, err := newTestService(t, src, clock.NewMock()).GetIndexValue(context.Background())
		assert.ErrorIs(t, err, domainerrors.ErrMalformedPrice)
	})
}

func TestSnapshotBreakdown(t *testing.T) {
	src := new(mockSource)
	src.On("GetLatestPrices", mock.Anything, mock.Anything).
		Return([]pyth.PriceFeed{feed("aa", 150), feed("bb", 5)}, nil)

	snap, err := newTestService(t, src, clock.NewMock()).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Assets, 2)
	assert.Equal(t, "AAA", snap.Assets[0].Symbol)
	assert.InDelta(t, 1.5, snap.Assets[0].Ratio, 1e-9)
	assert.Equal(t, "BBB", snap.Assets[1].Symbol)
	assert.InDelta(t, 0.5, snap.Assets[1].Ratio, 1e-9)
}

func TestNewServiceRejectsUnknownFeed(t *testing.T) {
	_, err := NewService(new(mockSource), testBasket, Config{FeedIDs: []string{"0xdead"}}, nil, logger.NewLogger(nil))
	assert.Error(t, err)
}

func TestDefaultBasketIsComplete(t *testing.T) {
	svc, err := NewService(new(mockSource), DefaultBasket, Config{}, nil, logger.NewLogger(nil))
	require.NoError(t, err)
	assert.Len(t, svc.feedIDs, len(DefaultBasket))
}
