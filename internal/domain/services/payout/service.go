// Package payout executes the counter-asset transfer for a classified deposit.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/repositories"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
	"github.com/cap5/settlement_service/pkg/tracing"
)

var tracer = tracing.Tracer("payout")

// Classifier resolves a signature into a deposit
type Classifier interface {
	Classify(ctx context.Context, signature string) (*entities.DepositClassification, error)
}

// IndexSource provides the current basket index value
type IndexSource interface {
	GetIndexValue(ctx context.Context) (float64, error)
}

// KeySource loads the raw treasury signing key
type KeySource interface {
	GetTreasuryKey(ctx context.Context, name string) (string, error)
}

// TokenSender is the chain surface needed to send a payout
type TokenSender interface {
	GetMintDecimals(ctx context.Context, mint string) (uint8, error)
	SendTransfer(ctx context.Context, signer *solana.Signer, req solana.TransferRequest) (string, error)
	WaitFinalized(ctx context.Context, signature string) error
}

// Config holds treasury addresses and the secret name of its key
type Config struct {
	Treasury      classifier.Treasury
	KeySecretName string
}

// Service executes payouts at most once per deposit signature
type Service struct {
	repo       repositories.SettlementRepository
	classifier Classifier
	oracle     IndexSource
	sender     TokenSender
	keys       KeySource
	config     Config
	logger     *logger.Logger
}

func NewService(
	repo repositories.SettlementRepository,
	classifier Classifier,
	oracle IndexSource,
	sender TokenSender,
	keys KeySource,
	config Config,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		classifier: classifier,
		oracle:     oracle,
		sender:     sender,
		keys:       keys,
		config:     config,
		logger:     log,
	}
}

// PayoutForSignature claims the signature, sends the payout and records the
// outcome. A signature that was already claimed returns ErrAlreadyClaimed
// without touching the chain.
func (s *Service) PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error) {
	ctx, span := tracer.Start(ctx, "payout.PayoutForSignature",
		trace.WithAttributes(
			attribute.String("signature", signature),
			attribute.Bool("fast", fast),
		))
	defer span.End()

	if signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}

	signer, err := s.loadSigner(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signer")
		return nil, err
	}

	claimed, err := s.repo.Claim(ctx, signature)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("claim settlement: %w", err)
	}
	if !claimed {
		s.logger.Info("Settlement already claimed, skipping payout", "signature", signature)
		return nil, domainerrors.ErrAlreadyClaimed
	}

	started := time.Now()
	s.logger.Info("Executing payout", "signature", signature, "fast", fast)

	run := &attempt{}
	result, paid, err := s.execute(ctx, signature, signer, fast, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payout failed")
		failure := run.failure(err)
		side := "unknown"
		if failure.Side != "" {
			side = string(failure.Side)
		}
		metrics.ObservePayout(side, "failed", fast, started)

		if markErr := s.repo.MarkFailed(ctx, signature, failure); markErr != nil {
			s.logger.Error("Failed to record payout failure",
				"signature", signature,
				"error", markErr)
		}
		s.logger.Warn("Payout failed",
			"signature", signature,
			"retryable", failure.Retryable,
			"error", err)
		return nil, err
	}

	if err := s.repo.MarkPaid(ctx, signature, *paid); err != nil {
		// the transfer is on chain; the record stays claimed and pending
		s.logger.Error("Payout sent but not recorded",
			"signature", signature,
			"payout_signature", result.PayoutSignature,
			"error", err)
		return result, fmt.Errorf("payout %s sent but not recorded: %w", result.PayoutSignature, err)
	}

	metrics.ObservePayout(string(result.Side), "paid", fast, started)
	span.SetAttributes(
		attribute.String("side", string(result.Side)),
		attribute.String("payout_signature", result.PayoutSignature),
	)
	s.logger.Info("Payout recorded",
		"signature", signature,
		"side", result.Side,
		"payout_signature", result.PayoutSignature,
		"amount", result.Amount,
		"index_value", result.IndexValue)

	return result, nil
}

// attempt tracks how far one payout run got before it stopped
type attempt struct {
	deposit   *entities.DepositClassification
	submitted bool
}

// failure describes a stopped run. Runs that never reached SendTransfer can
// be claimed again.
func (a *attempt) failure(err error) entities.FailedInfo {
	info := entities.FailedInfo{Error: err.Error(), Retryable: !a.submitted}
	if a.deposit != nil {
		info.Side = a.deposit.Kind
		info.FromUser = a.deposit.FromUser
		info.DepositAmount = entities.Float64Ptr(a.deposit.UIAmount)
	}
	return info
}

func (s *Service) execute(ctx context.Context, signature string, signer *solana.Signer, fast bool, run *attempt) (*entities.PayoutResult, *entities.PaidInfo, error) {
	deposit, plan, payout, err := s.plan(ctx, signature)
	run.deposit = deposit
	if err != nil {
		return nil, nil, err
	}

	decimals, err := s.sender.GetMintDecimals(ctx, plan.PayoutMint)
	if err != nil {
		return nil, nil, fmt.Errorf("read payout mint decimals: %w", err)
	}

	units, sent, err := ToBaseUnits(payout, decimals)
	if err != nil {
		return nil, nil, err
	}

	req := solana.TransferRequest{
		Mint:      plan.PayoutMint,
		Recipient: deposit.FromUser,
		Amount:    units,
		Decimals:  decimals,
	}
	if deposit.Kind == entities.SideBurn {
		req.Source = s.config.Treasury.StablecoinAccount
	}

	// a send error may still have reached the cluster
	run.submitted = true
	payoutSig, err := s.sender.SendTransfer(ctx, signer, req)
	if err != nil {
		return nil, nil, fmt.Errorf("send payout transfer: %w", err)
	}

	if !fast {
		if err := s.sender.WaitFinalized(ctx, payoutSig); err != nil {
			return nil, nil, fmt.Errorf("payout %s not finalized: %w", payoutSig, err)
		}
	}

	amount := sent.InexactFloat64()
	return &entities.PayoutResult{
			Side:            deposit.Kind,
			PayoutSignature: payoutSig,
			Amount:          amount,
			IndexValue:      plan.IndexValue,
		}, &entities.PaidInfo{
			Side:            deposit.Kind,
			FromUser:        deposit.FromUser,
			DepositAmount:   deposit.UIAmount,
			PayoutAmount:    amount,
			IndexValue:      plan.IndexValue,
			PayoutSignature: payoutSig,
		}, nil
}

// Plan classifies the deposit and computes the payout without sending it
func (s *Service) Plan(ctx context.Context, signature string) (*entities.PayoutPlan, error) {
	if signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}
	_, plan, _, err := s.plan(ctx, signature)
	return plan, err
}

func (s *Service) plan(ctx context.Context, signature string) (*entities.DepositClassification, *entities.PayoutPlan, decimal.Decimal, error) {
	deposit, err := s.classifier.Classify(ctx, signature)
	if err != nil {
		return nil, nil, decimal.Zero, fmt.Errorf("classify deposit: %w", err)
	}
	if deposit == nil {
		return nil, nil, decimal.Zero, domainerrors.ErrNotADeposit
	}

	index, err := s.oracle.GetIndexValue(ctx)
	if err != nil {
		return deposit, nil, decimal.Zero, fmt.Errorf("get index value: %w", err)
	}

	payout, err := ComputePayout(deposit.Kind, decimal.NewFromFloat(deposit.UIAmount), decimal.NewFromFloat(index))
	if err != nil {
		return deposit, nil, decimal.Zero, err
	}

	return deposit, &entities.PayoutPlan{
		Side:         deposit.Kind,
		FromUser:     deposit.FromUser,
		Deposited:    deposit.UIAmount,
		IndexValue:   index,
		PayoutAmount: payout.InexactFloat64(),
		PayoutMint:   s.payoutMint(deposit.Kind),
	}, payout, nil
}

func (s *Service) payoutMint(side entities.SettlementSide) string {
	if side == entities.SideBurn {
		return s.config.Treasury.StablecoinMint
	}
	return s.config.Treasury.IndexMint
}

func (s *Service) loadSigner(ctx context.Context) (*solana.Signer, error) {
	raw, err := s.keys.GetTreasuryKey(ctx, s.config.KeySecretName)
	if err != nil {
		return nil, fmt.Errorf("load treasury key: %w", err)
	}
	signer, err := solana.ParseSigner(raw)
	if err != nil {
		return nil, fmt.Errorf("parse treasury key: %w", err)
	}
	if signer.Address() != s.config.Treasury.Owner {
		s.logger.Error("Treasury key does not match configured owner",
			"derived", signer.Address(),
			"expected", s.config.Treasury.Owner)
		return nil, domainerrors.SignerMismatchError(signer.Address(), s.config.Treasury.Owner)
	}
	return signer, nil
}

// ComputePayout converts a deposit amount at the given index value. Mint
// deposits buy index tokens, burn deposits redeem stablecoin.
func ComputePayout(side entities.SettlementSide, amount, index decimal.Decimal) (decimal.Decimal, error) {
	if !index.IsPositive() {
		return decimal.Zero, domainerrors.ErrInvalidIndexValue
	}
	switch side {
	case entities.SideMint:
		return amount.DivRound(index, 18), nil
	case entities.SideBurn:
		return amount.Mul(index), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown settlement side %q", side)
	}
}

// ErrZeroPayout is returned when a payout truncates to zero base units
var ErrZeroPayout = errors.New("payout amount rounds to zero")

// ToBaseUnits floors amount to the mint's precision. It returns the integer
// amount and the truncated UI value actually sent.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (uint64, decimal.Decimal, error) {
	units := amount.Shift(int32(decimals)).Floor()
	if !units.IsPositive() {
		return 0, decimal.Zero, ErrZeroPayout
	}
	if !units.BigInt().IsUint64() {
		return 0, decimal.Zero, fmt.Errorf("payout amount %s overflows u64", units)
	}
	return units.BigInt().Uint64(), units.Shift(-int32(decimals)), nil
}
