// Package settlement routes webhook notifications and manual triggers into
// the settlement store and the payout executor.
package settlement

import (
	"context"
	"fmt"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/repositories"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/pkg/idempotency"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
)

// Executor runs and plans payouts
type Executor interface {
	PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error)
	Plan(ctx context.Context, signature string) (*entities.PayoutPlan, error)
}

// Classifier resolves a signature into a deposit
type Classifier interface {
	Classify(ctx context.Context, signature string) (*entities.DepositClassification, error)
}

// Dispatcher runs payouts in the background
type Dispatcher interface {
	Enqueue(ctx context.Context, signature string, fast bool) error
}

// Config holds the treasury addresses used for webhook pattern matching
type Config struct {
	Treasury classifier.Treasury
	FastMode bool
}

// StartRequest is a manual trigger for one signature
type StartRequest struct {
	Signature string `json:"signature"`
	Plan      bool   `json:"plan"`
	Fast      bool   `json:"fast"`
	Force     bool   `json:"force"`
}

// StartResult carries either a plan or an executed payout
type StartResult struct {
	Plan   *entities.PayoutPlan   `json:"plan,omitempty"`
	Payout *entities.PayoutResult `json:"result,omitempty"`
}

// VerifyResult is a classified deposit, the pending record written for it
// and the payout it would receive at the current index
type VerifyResult struct {
	Classification *entities.DepositClassification `json:"classification"`
	Record         *entities.SettlementRecord      `json:"record"`
	Plan           *entities.PayoutPlan            `json:"plan"`
}

// Service is the settlement ingress
type Service struct {
	repo       repositories.SettlementRepository
	classifier Classifier
	executor   Executor
	dispatcher Dispatcher
	debounce   idempotency.Guard
	config     Config
	logger     *logger.Logger
}

func NewService(
	repo repositories.SettlementRepository,
	classifier Classifier,
	executor Executor,
	dispatcher Dispatcher,
	debounce idempotency.Guard,
	config Config,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		classifier: classifier,
		executor:   executor,
		dispatcher: dispatcher,
		debounce:   debounce,
		config:     config,
		logger:     log,
	}
}

// HandleEvents records a pending settlement for every event that moves
// stablecoin or index tokens into the treasury. It never calls the chain.
func (s *Service) HandleEvents(ctx context.Context, events []entities.HeliusEvent) []entities.WebhookResult {
	results := make([]entities.WebhookResult, 0, len(events))
	for i := range events {
		res := s.handleEvent(ctx, &events[i])
		outcome := res.Reason
		switch {
		case res.Error != "":
			outcome = "error"
		case res.Queued:
			outcome = "queued"
		}
		metrics.WebhookEvents.WithLabelValues(outcome).Inc()
		results = append(results, res)
	}
	return results
}

func (s *Service) handleEvent(ctx context.Context, event *entities.HeliusEvent) entities.WebhookResult {
	sig := event.TxSignature()
	if sig == "" {
		return entities.WebhookResult{Skipped: true, Reason: entities.ReasonNoSignature}
	}

	existing, err := s.repo.GetOne(ctx, sig)
	if err != nil {
		s.logger.Error("Failed to read settlement", "signature", sig, "error", err)
		return entities.WebhookResult{Sig: sig, Error: err.Error()}
	}
	if existing != nil && existing.Phase == entities.PhasePaid {
		return entities.WebhookResult{Sig: sig, Skipped: true, Reason: entities.ReasonAlreadyPaid}
	}

	match := s.MatchTransfers(event.TokenTransfers)
	if match == nil {
		return entities.WebhookResult{Sig: sig, Skipped: true, Reason: entities.ReasonNoMatch}
	}

	if err := s.repo.PutPending(ctx, sig, entities.PendingInfo{
		Side:          match.Side,
		FromUser:      match.FromUser,
		DepositAmount: entities.Float64Ptr(match.Amount),
	}); err != nil {
		s.logger.Error("Failed to record pending settlement", "signature", sig, "error", err)
		return entities.WebhookResult{Sig: sig, Side: match.Side, Error: err.Error()}
	}

	s.logger.Info("Deposit sighted",
		"signature", sig,
		"side", match.Side,
		"from_user", match.FromUser,
		"amount", match.Amount)

	if s.config.FastMode {
		if err := s.dispatcher.Enqueue(ctx, sig, true); err != nil {
			s.logger.Error("Failed to enqueue fast payout", "signature", sig, "error", err)
		}
	}

	return entities.WebhookResult{Sig: sig, Side: match.Side, Queued: true}
}

// TransferMatch is a treasury-bound transfer found in a webhook event
type TransferMatch struct {
	Side     entities.SettlementSide
	FromUser string
	Amount   float64
}

// MatchTransfers looks for stablecoin sent to the treasury token account or
// index tokens sent to the treasury owner
func (s *Service) MatchTransfers(transfers []entities.HeliusTokenTransfer) *TransferMatch {
	t := s.config.Treasury
	for _, tr := range transfers {
		switch {
		case tr.Mint == t.StablecoinMint && (tr.ToTokenAccount == t.StablecoinAccount || tr.ToUserAccount == t.StablecoinAccount):
			return &TransferMatch{Side: entities.SideMint, FromUser: tr.FromUserAccount, Amount: float64(tr.TokenAmount)}
		case tr.Mint == t.IndexMint && tr.ToUserAccount == t.Owner:
			return &TransferMatch{Side: entities.SideBurn, FromUser: tr.FromUserAccount, Amount: float64(tr.TokenAmount)}
		}
	}
	return nil
}

// Start plans or executes a payout on demand. Repeated executions for the
// same signature inside the debounce window fail with ErrDebounced unless
// forced. Plans are never debounced.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.Signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}

	if req.Plan {
		plan, err := s.executor.Plan(ctx, req.Signature)
		if err != nil {
			return nil, err
		}
		return &StartResult{Plan: plan}, nil
	}

	if !req.Force {
		ok, err := s.debounce.Acquire(ctx, req.Signature)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domainerrors.ErrDebounced
		}
	}

	res, err := s.executor.PayoutForSignature(ctx, req.Signature, req.Fast)
	if err != nil {
		// the store's claim now decides whether a retry may run
		if !req.Force {
			if relErr := s.debounce.Release(ctx, req.Signature); relErr != nil {
				s.logger.Warn("Failed to release debounce window", "signature", req.Signature, "error", relErr)
			}
		}
		return nil, err
	}
	return &StartResult{Payout: res}, nil
}

// Payout executes a payout without debouncing
func (s *Service) Payout(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error) {
	if signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}
	return s.executor.PayoutForSignature(ctx, signature, fast)
}

// Verify classifies a signature from chain data, records it as pending and
// returns the payout plan
func (s *Service) Verify(ctx context.Context, signature string) (*VerifyResult, error) {
	if signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}

	deposit, err := s.classifier.Classify(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("classify deposit: %w", err)
	}
	if deposit == nil {
		return nil, domainerrors.ErrNotADeposit
	}

	if err := s.repo.PutPending(ctx, signature, entities.PendingInfo{
		Side:          deposit.Kind,
		FromUser:      deposit.FromUser,
		DepositAmount: entities.Float64Ptr(deposit.UIAmount),
	}); err != nil {
		return nil, fmt.Errorf("record pending settlement: %w", err)
	}

	record, err := s.repo.GetOne(ctx, signature)
	if err != nil {
		return nil, err
	}

	plan, err := s.executor.Plan(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("plan payout: %w", err)
	}
	return &VerifyResult{Classification: deposit, Record: record, Plan: plan}, nil
}

// Query returns the stored record, or a pending view inferred from live
// classification when nothing is stored. It returns nil for unrelated
// signatures.
func (s *Service) Query(ctx context.Context, signature string) (*entities.SettlementRecord, error) {
	if signature == "" {
		return nil, domainerrors.ErrMissingSignature
	}

	record, err := s.repo.GetOne(ctx, signature)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	deposit, err := s.classifier.Classify(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("classify deposit: %w", err)
	}
	if deposit == nil {
		return nil, nil
	}
	return &entities.SettlementRecord{
		Signature: signature,
		Side:      deposit.Kind,
		Phase:     entities.PhasePending,
		FromUser:  deposit.FromUser,
	}, nil
}
