// Package chainreader verifies deposits by reading finalized token balance
// changes from the chain.
package chainreader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/retry"
)

// BalanceReader fetches token balance snapshots for a transaction
type BalanceReader interface {
	GetTokenBalances(ctx context.Context, signature string) (*solana.BalanceSnapshot, error)
}

// DepositProof identifies the depositor and the amount the treasury received
type DepositProof struct {
	FromUser string
	UIAmount float64
}

// Config controls how long a not-yet-visible transaction is waited for
type Config struct {
	ReadRetries  int
	InitialDelay time.Duration
}

// Service verifies deposits against finalized chain data
type Service struct {
	reader  BalanceReader
	retrier *retry.Retrier
	logger  *logger.Logger
}

// NewService creates a chain reader
func NewService(reader BalanceReader, cfg Config, log *logger.Logger) *Service {
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}

	policy := retry.Policy{
		MaxRetries:   cfg.ReadRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     8 * cfg.InitialDelay,
		Multiplier:   2,
		RetryableFunc: func(err error) bool {
			return errors.Is(err, solana.ErrTransactionNotFound)
		},
	}

	return &Service{
		reader:  reader,
		retrier: retry.NewRetrier(policy, log.Zap()),
		logger:  log,
	}
}

// VerifyDeposit checks whether signature moved mint into treasury, which is
// either the treasury token account or the treasury owner wallet. A nil proof
// with a nil error means the transaction is not such a deposit.
func (s *Service) VerifyDeposit(ctx context.Context, signature, mint, treasury string) (*DepositProof, error) {
	snapshot, err := retry.DoWithResult(ctx, s.retrier, func() (*solana.BalanceSnapshot, error) {
		return s.reader.GetTokenBalances(ctx, signature)
	})
	if err != nil {
		if errors.Is(err, solana.ErrTransactionNotFound) {
			s.logger.Debug("Transaction not found at finalized commitment",
				"signature", signature)
			return nil, nil
		}
		return nil, fmt.Errorf("read token balances for %s: %w", signature, err)
	}

	proof := DeltaFromBalances(snapshot, mint, treasury)
	if proof != nil {
		s.logger.Debug("Deposit verified",
			"signature", signature,
			"mint", mint,
			"from_user", proof.FromUser,
			"amount", proof.UIAmount)
	}
	return proof, nil
}

type accountChange struct {
	account string
	owner   string
	delta   float64
}

// DeltaFromBalances computes the treasury's received amount for mint and the
// sender whose balance fell the most. It returns nil when the treasury did
// not gain or no sender can be identified.
func DeltaFromBalances(snapshot *solana.BalanceSnapshot, mint, treasury string) *DepositProof {
	if snapshot == nil {
		return nil
	}

	changes := make([]*accountChange, 0, len(snapshot.Post))
	byAccount := make(map[string]*accountChange)
	track := func(b solana.TokenBalance, sign float64) {
		if b.Mint != mint {
			return
		}
		c, ok := byAccount[b.Account]
		if !ok {
			c = &accountChange{account: b.Account}
			byAccount[b.Account] = c
			changes = append(changes, c)
		}
		if c.owner == "" {
			c.owner = b.Owner
		}
		c.delta += sign * b.UIAmount
	}
	for _, b := range snapshot.Pre {
		track(b, -1)
	}
	for _, b := range snapshot.Post {
		track(b, 1)
	}

	var (
		treasuryDelta float64
		matched       bool
		depositor     *accountChange
	)
	for _, c := range changes {
		if c.account == treasury || c.owner == treasury {
			treasuryDelta += c.delta
			matched = true
			continue
		}
		if c.delta < 0 && (depositor == nil || c.delta < depositor.delta) {
			depositor = c
		}
	}

	if !matched || treasuryDelta <= 0 || depositor == nil {
		return nil
	}

	from := depositor.owner
	if from == "" {
		from = depositor.account
	}
	return &DepositProof{FromUser: from, UIAmount: treasuryDelta}
}
