package repositories

import (
	"context"
	"time"

	"github.com/cap5/settlement_service/internal/domain/entities"
)

// SettlementRepository owns settlement records keyed by deposit signature.
//
// PutPending is first-writer-wins. MarkPaid and MarkFailed create the record
// when none exists and never overwrite a terminal phase. Claim is the single
// atomic gate in front of a payout: it succeeds at most once per signature,
// except that a failed record marked retryable may be claimed again.
type SettlementRepository interface {
	PutPending(ctx context.Context, signature string, info entities.PendingInfo) error
	MarkPaid(ctx context.Context, signature string, info entities.PaidInfo) error
	MarkFailed(ctx context.Context, signature string, info entities.FailedInfo) error
	// GetOne returns nil, nil when no record exists
	GetOne(ctx context.Context, signature string) (*entities.SettlementRecord, error)
	Claim(ctx context.Context, signature string) (bool, error)
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*entities.SettlementRecord, error)
	Close() error
}
