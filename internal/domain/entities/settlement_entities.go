package entities

import "time"

// SettlementRecord tracks one deposit signature through pending, paid or failed
type SettlementRecord struct {
	Signature       string          `json:"signature" db:"signature" badgerhold:"key"`
	Side            SettlementSide  `json:"side,omitempty" db:"side"`
	Phase           SettlementPhase `json:"phase" db:"phase" badgerholdIndex:"Phase"`
	FromUser        string          `json:"fromUser,omitempty" db:"from_user"`
	DepositAmount   *float64        `json:"depositAmount,omitempty" db:"deposit_amount"`
	PayoutAmount    *float64        `json:"payoutAmount,omitempty" db:"payout_amount"`
	IndexValue      *float64        `json:"indexValue,omitempty" db:"index_value"`
	PayoutSignature string          `json:"payoutSig,omitempty" db:"payout_signature"`
	Error           string          `json:"error,omitempty" db:"error"`
	Retryable       bool            `json:"retryable,omitempty" db:"retryable"`
	ClaimedAt       *time.Time      `json:"claimedAt,omitempty" db:"claimed_at"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// IsClaimed reports whether a payout attempt already owns this record
func (r *SettlementRecord) IsClaimed() bool {
	return r.ClaimedAt != nil
}

// CanReclaim reports whether a failed attempt stopped before any transfer
// was submitted, so the signature may be claimed again
func (r *SettlementRecord) CanReclaim() bool {
	return r.Phase == PhaseFailed && r.Retryable
}

// PendingInfo is recorded when a deposit is first sighted
type PendingInfo struct {
	Side          SettlementSide
	FromUser      string
	DepositAmount *float64
}

// PaidInfo is recorded once a payout transfer has been submitted
type PaidInfo struct {
	Side            SettlementSide
	FromUser        string
	DepositAmount   float64
	PayoutAmount    float64
	IndexValue      float64
	PayoutSignature string
}

// FailedInfo is recorded when a payout attempt errors
type FailedInfo struct {
	Side          SettlementSide
	FromUser      string
	DepositAmount *float64
	Error         string
	// Retryable is set when nothing was sent on chain
	Retryable bool
}

// DepositClassification is derived from chain data on every call and never stored
type DepositClassification struct {
	Kind     SettlementSide `json:"kind"`
	FromUser string         `json:"fromUser"`
	UIAmount float64        `json:"uiAmount"`
}

// PayoutPlan is the computed counter-asset transfer for a classified deposit
type PayoutPlan struct {
	Side         SettlementSide `json:"side"`
	FromUser     string         `json:"fromUser"`
	Deposited    float64        `json:"deposited"`
	IndexValue   float64        `json:"indexValue"`
	PayoutAmount float64        `json:"payoutAmount"`
	PayoutMint   string         `json:"payoutMint"`
}

// PayoutResult is returned once a payout transfer has been broadcast
type PayoutResult struct {
	Side            SettlementSide `json:"side"`
	PayoutSignature string         `json:"payoutSignature"`
	Amount          float64        `json:"amount"`
	IndexValue      float64        `json:"indexValue"`
}

// Float64Ptr is a helper for optional amount fields
func Float64Ptr(v float64) *float64 {
	return &v
}
