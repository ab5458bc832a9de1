package repositories

import (
	"fmt"
	"time"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
)

func newPendingRecord(signature string, info entities.PendingInfo, now time.Time) *entities.SettlementRecord {
	return &entities.SettlementRecord{
		Signature:     signature,
		Side:          info.Side,
		Phase:         entities.PhasePending,
		FromUser:      info.FromUser,
		DepositAmount: info.DepositAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func applyPaid(rec *entities.SettlementRecord, info entities.PaidInfo, now time.Time) error {
	if err := rec.Phase.ValidateTransition(entities.PhasePaid); err != nil {
		return fmt.Errorf("%w: %s is %s", domainerrors.ErrAlreadySettled, rec.Signature, rec.Phase)
	}
	if rec.Side == "" {
		rec.Side = info.Side
	}
	if rec.FromUser == "" {
		rec.FromUser = info.FromUser
	}
	rec.Phase = entities.PhasePaid
	rec.DepositAmount = entities.Float64Ptr(info.DepositAmount)
	rec.PayoutAmount = entities.Float64Ptr(info.PayoutAmount)
	rec.IndexValue = entities.Float64Ptr(info.IndexValue)
	rec.PayoutSignature = info.PayoutSignature
	rec.Error = ""
	rec.Retryable = false
	rec.UpdatedAt = now
	return nil
}

func applyFailed(rec *entities.SettlementRecord, info entities.FailedInfo, now time.Time) error {
	if err := rec.Phase.ValidateTransition(entities.PhaseFailed); err != nil {
		return fmt.Errorf("%w: %s is %s", domainerrors.ErrAlreadySettled, rec.Signature, rec.Phase)
	}
	if rec.Side == "" {
		rec.Side = info.Side
	}
	if rec.FromUser == "" {
		rec.FromUser = info.FromUser
	}
	if rec.DepositAmount == nil && info.DepositAmount != nil {
		rec.DepositAmount = entities.Float64Ptr(*info.DepositAmount)
	}
	rec.Phase = entities.PhaseFailed
	rec.Error = info.Error
	rec.Retryable = info.Retryable
	rec.UpdatedAt = now
	return nil
}

// applyClaim reopens a retryable failure, then takes the claim when the
// record is pending and unclaimed
func applyClaim(rec *entities.SettlementRecord, now time.Time) bool {
	if rec.CanReclaim() {
		rec.Phase = entities.PhasePending
		rec.Error = ""
		rec.Retryable = false
		rec.ClaimedAt = nil
	}
	if rec.Phase.IsTerminal() || rec.IsClaimed() {
		return false
	}
	rec.ClaimedAt = &now
	rec.UpdatedAt = now
	return true
}

func copyRecord(rec *entities.SettlementRecord) *entities.SettlementRecord {
	cp := *rec
	return &cp
}
