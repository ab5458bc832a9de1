package payout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/internal/infrastructure/repositories"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/secrets"
)

type stubClassifier struct {
	result *entities.DepositClassification
	err    error
}

func (c stubClassifier) Classify(ctx context.Context, signature string) (*entities.DepositClassification, error) {
	return c.result, c.err
}

type stubIndex struct {
	value float64
	err   error
}

func (i stubIndex) GetIndexValue(ctx context.Context) (float64, error) {
	return i.value, i.err
}

// flakyIndex fails for the first n calls
type flakyIndex struct {
	failures int32
	calls    int32
	value    float64
}

func (i *flakyIndex) GetIndexValue(ctx context.Context) (float64, error) {
	if atomic.AddInt32(&i.calls, 1) <= i.failures {
		return 0, domainerrors.UpstreamError("pyth", errors.New("hermes 503"))
	}
	return i.value, nil
}

type mockSender struct {
	mock.Mock
	sends int32
}

func (m *mockSender) GetMintDecimals(ctx context.Context, mint string) (uint8, error) {
	args := m.Called(ctx, mint)
	return args.Get(0).(uint8), args.Error(1)
}

func (m *mockSender) SendTransfer(ctx context.Context, signer *solana.Signer, req solana.TransferRequest) (string, error) {
	atomic.AddInt32(&m.sends, 1)
	args := m.Called(ctx, signer, req)
	return args.String(0), args.Error(1)
}

func (m *mockSender) WaitFinalized(ctx context.Context, signature string) error {
	return m.Called(ctx, signature).Error(0)
}

type fixture struct {
	svc    *Service
	repo   *repositories.MemorySettlementRepository
	sender *mockSender
	owner  string
}

func newFixture(t *testing.T, deposit *entities.DepositClassification, index float64) *fixture {
	t.Helper()
	signer, err := solana.NewRandomSigner()
	require.NoError(t, err)

	repo := repositories.NewMemorySettlementRepository()
	sender := new(mockSender)
	cfg := Config{
		Treasury: classifier.Treasury{
			StablecoinMint:    "USDC",
			StablecoinAccount: "treasuryUsdc",
			IndexMint:         "CAP5",
			Owner:             signer.Address(),
		},
		KeySecretName: "TREASURY_PRIVATE_KEY",
	}
	keys := secrets.NewManager(secrets.StaticProvider{"TREASURY_PRIVATE_KEY": signer.Base58()})

	svc := NewService(repo, stubClassifier{result: deposit}, stubIndex{value: index}, sender, keys, cfg, logger.NewLogger(nil))
	return &fixture{svc: svc, repo: repo, sender: sender, owner: signer.Address()}
}

func TestPayoutForSignature(t *testing.T) {
	ctx := context.Background()

	t.Run("mint pays index tokens", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.sender.On("GetMintDecimals", mock.Anything, "CAP5").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, solana.TransferRequest{
			Mint: "CAP5", Recipient: "alice", Amount: 2_000_000, Decimals: 6,
		}).Return("payoutSig1", nil)

		res, err := f.svc.PayoutForSignature(ctx, "sig1", true)
		require.NoError(t, err)
		assert.Equal(t, entities.SideMint, res.Side)
		assert.Equal(t, "payoutSig1", res.PayoutSignature)
		assert.Equal(t, 2.0, res.Amount)
		assert.Equal(t, 50.0, res.IndexValue)
		f.sender.AssertNotCalled(t, "WaitFinalized", mock.Anything, mock.Anything)

		rec, err := f.repo.GetOne(ctx, "sig1")
		require.NoError(t, err)
		assert.Equal(t, entities.PhasePaid, rec.Phase)
		assert.Equal(t, "payoutSig1", rec.PayoutSignature)
		assert.Equal(t, 100.0, *rec.DepositAmount)
		assert.Equal(t, 2.0, *rec.PayoutAmount)
	})

	t.Run("burn pays stablecoin from treasury account and waits", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideBurn, FromUser: "bob", UIAmount: 2}, 50)
		f.sender.On("GetMintDecimals", mock.Anything, "USDC").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, solana.TransferRequest{
			Mint: "USDC", Source: "treasuryUsdc", Recipient: "bob", Amount: 100_000_000, Decimals: 6,
		}).Return("payoutSig2", nil)
		f.sender.On("WaitFinalized", mock.Anything, "payoutSig2").Return(nil)

		res, err := f.svc.PayoutForSignature(ctx, "sig2", false)
		require.NoError(t, err)
		assert.Equal(t, 100.0, res.Amount)
		f.sender.AssertExpectations(t)
	})

	t.Run("unclassified deposit is recorded as failed", func(t *testing.T) {
		f := newFixture(t, nil, 50)

		_, err := f.svc.PayoutForSignature(ctx, "sig3", true)
		require.ErrorIs(t, err, domainerrors.ErrNotADeposit)
		assert.EqualError(t, err, "signature does not match mint or burn deposit")

		rec, _ := f.repo.GetOne(ctx, "sig3")
		require.NotNil(t, rec)
		assert.Equal(t, entities.PhaseFailed, rec.Phase)
		assert.Equal(t, "signature does not match mint or burn deposit", rec.Error)
		assert.True(t, rec.Retryable)
	})

	t.Run("transfer error is recorded and returned", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.sender.On("GetMintDecimals", mock.Anything, "CAP5").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("blockhash not found"))

		_, err := f.svc.PayoutForSignature(ctx, "sig4", true)
		assert.ErrorContains(t, err, "blockhash not found")

		rec, _ := f.repo.GetOne(ctx, "sig4")
		assert.Equal(t, entities.PhaseFailed, rec.Phase)
		assert.Contains(t, rec.Error, "blockhash not found")
		assert.False(t, rec.Retryable)
		assert.Equal(t, entities.SideMint, rec.Side)

		_, err = f.svc.PayoutForSignature(ctx, "sig4", true)
		assert.ErrorIs(t, err, domainerrors.ErrAlreadyClaimed)
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.sender.sends))
	})

	t.Run("upstream outage before send can be retried", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.svc.oracle = &flakyIndex{failures: 1, value: 50}
		f.sender.On("GetMintDecimals", mock.Anything, "CAP5").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, mock.Anything).Return("payoutSig", nil)

		_, err := f.svc.PayoutForSignature(ctx, "sig8", true)
		require.ErrorContains(t, err, "hermes 503")

		rec, _ := f.repo.GetOne(ctx, "sig8")
		require.NotNil(t, rec)
		assert.Equal(t, entities.PhaseFailed, rec.Phase)
		assert.True(t, rec.Retryable)
		assert.Equal(t, int32(0), atomic.LoadInt32(&f.sender.sends))

		res, err := f.svc.PayoutForSignature(ctx, "sig8", true)
		require.NoError(t, err)
		assert.Equal(t, "payoutSig", res.PayoutSignature)

		rec, _ = f.repo.GetOne(ctx, "sig8")
		assert.Equal(t, entities.PhasePaid, rec.Phase)
		assert.Empty(t, rec.Error)
		assert.False(t, rec.Retryable)
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.sender.sends))
	})

	t.Run("failed record keeps the classified deposit", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideBurn, FromUser: "bob", UIAmount: 2}, 50)
		f.svc.oracle = stubIndex{err: errors.New("oracle down")}

		_, err := f.svc.PayoutForSignature(ctx, "sig9", true)
		require.Error(t, err)

		rec, _ := f.repo.GetOne(ctx, "sig9")
		require.NotNil(t, rec)
		assert.Equal(t, entities.PhaseFailed, rec.Phase)
		assert.Equal(t, entities.SideBurn, rec.Side)
		assert.Equal(t, "bob", rec.FromUser)
		require.NotNil(t, rec.DepositAmount)
		assert.Equal(t, 2.0, *rec.DepositAmount)
	})

	t.Run("second call does not touch the chain", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.sender.On("GetMintDecimals", mock.Anything, "CAP5").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, mock.Anything).Return("payoutSig", nil)

		_, err := f.svc.PayoutForSignature(ctx, "sig5", true)
		require.NoError(t, err)

		_, err = f.svc.PayoutForSignature(ctx, "sig5", true)
		assert.ErrorIs(t, err, domainerrors.ErrAlreadyClaimed)
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.sender.sends))
	})

	t.Run("concurrent triggers send once", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.sender.On("GetMintDecimals", mock.Anything, "CAP5").Return(uint8(6), nil)
		f.sender.On("SendTransfer", mock.Anything, mock.Anything, mock.Anything).Return("payoutSig", nil)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.svc.PayoutForSignature(ctx, "sig6", true)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&f.sender.sends))
	})

	t.Run("signer mismatch fails before any claim", func(t *testing.T) {
		f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)
		f.svc.config.Treasury.Owner = "SomeoneElse1111111111111111111111111111111"

		_, err := f.svc.PayoutForSignature(ctx, "sig7", true)
		assert.ErrorIs(t, err, domainerrors.ErrSignerMismatch)

		rec, _ := f.repo.GetOne(ctx, "sig7")
		assert.Nil(t, rec)
		assert.Equal(t, int32(0), atomic.LoadInt32(&f.sender.sends))
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(t, nil, 50)
		_, err := f.svc.PayoutForSignature(ctx, "", true)
		assert.ErrorIs(t, err, domainerrors.ErrMissingSignature)
	})
}

func TestPlan(t *testing.T) {
	f := newFixture(t, &entities.DepositClassification{Kind: entities.SideMint, FromUser: "alice", UIAmount: 100}, 50)

	plan, err := f.svc.Plan(context.Background(), "sig1")
	require.NoError(t, err)
	assert.Equal(t, &entities.PayoutPlan{
		Side:         entities.SideMint,
		FromUser:     "alice",
		Deposited:    100,
		IndexValue:   50,
		PayoutAmount: 2,
		PayoutMint:   "CAP5",
	}, plan)

	rec, _ := f.repo.GetOne(context.Background(), "sig1")
	assert.Nil(t, rec)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.sender.sends))
}

func TestComputePayout(t *testing.T) {
	tests := []struct {
		name   string
		side   entities.SettlementSide
		amount string
		index  string
		want   string
	}{
		{"mint divides by index", entities.SideMint, "100", "50", "2"},
		{"burn multiplies by index", entities.SideBurn, "2", "50", "100"},
		{"fractional index", entities.SideMint, "10", "125.5", "0.079681274900398406"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputePayout(tt.side, decimal.RequireFromString(tt.amount), decimal.RequireFromString(tt.index))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := ComputePayout(entities.SideMint, decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidIndexValue)
}

func TestToBaseUnits(t *testing.T) {
	units, sent, err := ToBaseUnits(decimal.RequireFromString("0.0796812749"), 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(79681), units)
	assert.Equal(t, "0.079681", sent.String())

	_, _, err = ToBaseUnits(decimal.RequireFromString("0.0000001"), 6)
	assert.ErrorIs(t, err, ErrZeroPayout)
}
