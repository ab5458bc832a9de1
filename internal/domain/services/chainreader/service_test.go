package chainreader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/pkg/logger"
)

const (
	usdcMint        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	treasuryAccount = "TreasuryUsdcAccount1111111111111111111111111"
	treasuryOwner   = "TreasuryOwner11111111111111111111111111111"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetTokenBalances(ctx context.Context, signature string) (*solana.BalanceSnapshot, error) {
	args := m.Called(ctx, signature)
	if s := args.Get(0); s != nil {
		return s.(*solana.BalanceSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func depositSnapshot() *solana.BalanceSnapshot {
	return &solana.BalanceSnapshot{
		Signature: "sig1",
		Pre: []solana.TokenBalance{
			{Account: treasuryAccount, Owner: treasuryOwner, Mint: usdcMint, UIAmount: 1000},
			{Account: "aliceUsdc", Owner: "alice", Mint: usdcMint, UIAmount: 250},
			{Account: "bobUsdc", Owner: "bob", Mint: usdcMint, UIAmount: 40},
		},
		Post: []solana.TokenBalance{
			{Account: treasuryAccount, Owner: treasuryOwner, Mint: usdcMint, UIAmount: 1100},
			{Account: "aliceUsdc", Owner: "alice", Mint: usdcMint, UIAmount: 150},
			{Account: "bobUsdc", Owner: "bob", Mint: usdcMint, UIAmount: 40},
		},
	}
}

func TestDeltaFromBalances(t *testing.T) {
	t.Run("treasury account receives deposit", func(t *testing.T) {
		proof := DeltaFromBalances(depositSnapshot(), usdcMint, treasuryAccount)
		require.NotNil(t, proof)
		assert.Equal(t, "alice", proof.FromUser)
		assert.InDelta(t, 100, proof.UIAmount, 1e-9)
	})

	t.Run("treasury matched by owner wallet", func(t *testing.T) {
		proof := DeltaFromBalances(depositSnapshot(), usdcMint, treasuryOwner)
		require.NotNil(t, proof)
		assert.Equal(t, "alice", proof.FromUser)
	})

	t.Run("ignores other mints", func(t *testing.T) {
		assert.Nil(t, DeltaFromBalances(depositSnapshot(), "OtherMint", treasuryAccount))
	})

	t.Run("treasury outflow is not a deposit", func(t *testing.T) {
		snap := depositSnapshot()
		snap.Post[0].UIAmount = 900
		snap.Post[1].UIAmount = 350
		assert.Nil(t, DeltaFromBalances(snap, usdcMint, treasuryAccount))
	})

	t.Run("unchanged treasury is not a deposit", func(t *testing.T) {
		snap := depositSnapshot()
		snap.Post[0].UIAmount = 1000
		assert.Nil(t, DeltaFromBalances(snap, usdcMint, treasuryAccount))
	})

	t.Run("treasury associated account created in the transaction", func(t *testing.T) {
		snap := &solana.BalanceSnapshot{
			Pre: []solana.TokenBalance{
				{Account: "aliceIdx", Owner: "alice", Mint: "IdxMint", UIAmount: 5},
			},
			Post: []solana.TokenBalance{
				{Account: "aliceIdx", Owner: "alice", Mint: "IdxMint", UIAmount: 3},
				{Account: "treasuryIdx", Owner: treasuryOwner, Mint: "IdxMint", UIAmount: 2},
			},
		}
		proof := DeltaFromBalances(snap, "IdxMint", treasuryOwner)
		require.NotNil(t, proof)
		assert.Equal(t, "alice", proof.FromUser)
		assert.InDelta(t, 2, proof.UIAmount, 1e-9)
	})

	t.Run("most negative sender wins", func(t *testing.T) {
		snap := depositSnapshot()
		snap.Post[0].UIAmount = 1130
		snap.Post[2].UIAmount = 10
		proof := DeltaFromBalances(snap, usdcMint, treasuryAccount)
		require.NotNil(t, proof)
		assert.Equal(t, "alice", proof.FromUser)
		assert.InDelta(t, 130, proof.UIAmount, 1e-9)
	})

	t.Run("no identifiable sender", func(t *testing.T) {
		snap := &solana.BalanceSnapshot{
			Pre:  []solana.TokenBalance{{Account: treasuryAccount, Mint: usdcMint, UIAmount: 0}},
			Post: []solana.TokenBalance{{Account: treasuryAccount, Mint: usdcMint, UIAmount: 10}},
		}
		assert.Nil(t, DeltaFromBalances(snap, usdcMint, treasuryAccount))
	})

	t.Run("nil snapshot", func(t *testing.T) {
		assert.Nil(t, DeltaFromBalances(nil, usdcMint, treasuryAccount))
	})
}

func TestVerifyDeposit(t *testing.T) {
	log := logger.NewLogger(nil)
	cfg := Config{ReadRetries: 2, InitialDelay: time.Millisecond}

	t.Run("returns proof", func(t *testing.T) {
		reader := new(mockReader)
		reader.On("GetTokenBalances", mock.Anything, "sig1").Return(depositSnapshot(), nil)

		proof, err := NewService(reader, cfg, log).VerifyDeposit(context.Background(), "sig1", usdcMint, treasuryAccount)
		require.NoError(t, err)
		require.NotNil(t, proof)
		assert.Equal(t, "alice", proof.FromUser)
	})

	t.Run("retries until transaction is visible", func(t *testing.T) {
		reader := new(mockReader)
		reader.On("GetTokenBalances", mock.Anything, "sig1").Return(nil, solana.ErrTransactionNotFound).Once()
		reader.On("GetTokenBalances", mock.Anything, "sig1").Return(depositSnapshot(), nil).Once()

		proof, err := NewService(reader, cfg, log).VerifyDeposit(context.Background(), "sig1", usdcMint, treasuryAccount)
		require.NoError(t, err)
		assert.NotNil(t, proof)
		reader.AssertExpectations(t)
	})

	t.Run("missing transaction is not a deposit", func(t *testing.T) {
		reader := new(mockReader)
		reader.On("GetTokenBalances", mock.Anything, "sig1").Return(nil, solana.ErrTransactionNotFound)

		proof, err := NewService(reader, cfg, log).VerifyDeposit(context.Background(), "sig1", usdcMint, treasuryAccount)
		require.NoError(t, err)
		assert.Nil(t, proof)
		reader.AssertNumberOfCalls(t, "GetTokenBalances", 3)
	})

	t.Run("rpc failures propagate", func(t *testing.T) {
		rpcErr := errors.New("connection refused")
		reader := new(mockReader)
		reader.On("GetTokenBalances", mock.Anything, "sig1").Return(nil, rpcErr)

		_, err := NewService(reader, cfg, log).VerifyDeposit(context.Background(), "sig1", usdcMint, treasuryAccount)
		assert.ErrorIs(t, err, rpcErr)
		reader.AssertNumberOfCalls(t, "GetTokenBalances", 1)
	})
}
