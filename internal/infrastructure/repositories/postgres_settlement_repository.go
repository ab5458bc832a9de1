package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/repositories"
)

const settlementColumns = `signature, side, phase, from_user, deposit_amount, payout_amount,
	index_value, payout_signature, error, retryable, claimed_at, created_at, updated_at`

// PostgresSettlementRepository stores settlement records in the settlements table
type PostgresSettlementRepository struct {
	db *sqlx.DB
}

func NewPostgresSettlementRepository(db *sqlx.DB) *PostgresSettlementRepository {
	return &PostgresSettlementRepository{db: db}
}

func (r *PostgresSettlementRepository) PutPending(ctx context.Context, signature string, info entities.PendingInfo) error {
	query := `
		INSERT INTO settlements (signature, side, phase, from_user, deposit_amount, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $4, NOW(), NOW())
		ON CONFLICT (signature) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, signature, string(info.Side), info.FromUser, info.DepositAmount); err != nil {
		return fmt.Errorf("failed to put pending settlement: %w", err)
	}
	return nil
}

func (r *PostgresSettlementRepository) MarkPaid(ctx context.Context, signature string, info entities.PaidInfo) error {
	query := `
		INSERT INTO settlements (
			signature, side, phase, from_user, deposit_amount, payout_amount,
			index_value, payout_signature, created_at, updated_at
		) VALUES ($1, $2, 'paid', $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (signature) DO UPDATE SET
			side = CASE WHEN settlements.side = '' THEN EXCLUDED.side ELSE settlements.side END,
			from_user = CASE WHEN settlements.from_user = '' THEN EXCLUDED.from_user ELSE settlements.from_user END,
			phase = 'paid',
			deposit_amount = EXCLUDED.deposit_amount,
			payout_amount = EXCLUDED.payout_amount,
			index_value = EXCLUDED.index_value,
			payout_signature = EXCLUDED.payout_signature,
			error = '',
			retryable = FALSE,
			updated_at = NOW()
		WHERE settlements.phase = 'pending'`

	res, err := r.db.ExecContext(ctx, query,
		signature,
		string(info.Side),
		info.FromUser,
		info.DepositAmount,
		info.PayoutAmount,
		info.IndexValue,
		info.PayoutSignature,
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement paid: %w", err)
	}
	return terminalWriteResult(res, signature)
}

func (r *PostgresSettlementRepository) MarkFailed(ctx context.Context, signature string, info entities.FailedInfo) error {
	query := `
		INSERT INTO settlements (signature, side, phase, from_user, deposit_amount, error, retryable, created_at, updated_at)
		VALUES ($1, $2, 'failed', $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (signature) DO UPDATE SET
			side = CASE WHEN settlements.side = '' THEN EXCLUDED.side ELSE settlements.side END,
			from_user = CASE WHEN settlements.from_user = '' THEN EXCLUDED.from_user ELSE settlements.from_user END,
			deposit_amount = COALESCE(settlements.deposit_amount, EXCLUDED.deposit_amount),
			phase = 'failed',
			error = EXCLUDED.error,
			retryable = EXCLUDED.retryable,
			updated_at = NOW()
		WHERE settlements.phase = 'pending'`

	res, err := r.db.ExecContext(ctx, query,
		signature,
		string(info.Side),
		info.FromUser,
		info.DepositAmount,
		info.Error,
		info.Retryable,
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement failed: %w", err)
	}
	return terminalWriteResult(res, signature)
}

func (r *PostgresSettlementRepository) GetOne(ctx context.Context, signature string) (*entities.SettlementRecord, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE signature = $1`

	var rec entities.SettlementRecord
	if err := r.db.GetContext(ctx, &rec, query, signature); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &rec, nil
}

// Claim relies on the row lock taken by the upsert so only one caller sees a
// row affected. A retryable failure is reopened as pending and claimed.
func (r *PostgresSettlementRepository) Claim(ctx context.Context, signature string) (bool, error) {
	query := `
		INSERT INTO settlements (signature, phase, claimed_at, created_at, updated_at)
		VALUES ($1, 'pending', NOW(), NOW(), NOW())
		ON CONFLICT (signature) DO UPDATE SET
			phase = 'pending',
			error = '',
			retryable = FALSE,
			claimed_at = NOW(),
			updated_at = NOW()
		WHERE (settlements.phase = 'pending' AND settlements.claimed_at IS NULL)
			OR (settlements.phase = 'failed' AND settlements.retryable)`

	res, err := r.db.ExecContext(ctx, query, signature)
	if err != nil {
		return false, fmt.Errorf("failed to claim settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim settlement: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresSettlementRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*entities.SettlementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + settlementColumns + `
		FROM settlements
		WHERE phase = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	var records []*entities.SettlementRecord
	if err := r.db.SelectContext(ctx, &records, query, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending settlements: %w", err)
	}
	return records, nil
}

func (r *PostgresSettlementRepository) Close() error {
	return r.db.Close()
}

func terminalWriteResult(res sql.Result, signature string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domainerrors.ErrAlreadySettled, signature)
	}
	return nil
}

var _ repositories.SettlementRepository = (*PostgresSettlementRepository)(nil)
