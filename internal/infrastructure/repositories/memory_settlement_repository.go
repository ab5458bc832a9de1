package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cap5/settlement_service/internal/domain/entities"
	"github.com/cap5/settlement_service/internal/domain/repositories"
)

// MemorySettlementRepository keeps settlement records for the lifetime of the process
type MemorySettlementRepository struct {
	mu      sync.Mutex
	records map[string]*entities.SettlementRecord
	now     func() time.Time
}

func NewMemorySettlementRepository() *MemorySettlementRepository {
	return &MemorySettlementRepository{
		records: make(map[string]*entities.SettlementRecord),
		now:     time.Now,
	}
}

func (r *MemorySettlementRepository) PutPending(_ context.Context, signature string, info entities.PendingInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[signature]; exists {
		return nil
	}
	r.records[signature] = newPendingRecord(signature, info, r.now())
	return nil
}

func (r *MemorySettlementRepository) MarkPaid(_ context.Context, signature string, info entities.PaidInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreate(signature)
	return applyPaid(rec, info, r.now())
}

func (r *MemorySettlementRepository) MarkFailed(_ context.Context, signature string, info entities.FailedInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreate(signature)
	return applyFailed(rec, info, r.now())
}

func (r *MemorySettlementRepository) GetOne(_ context.Context, signature string) (*entities.SettlementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[signature]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (r *MemorySettlementRepository) Claim(_ context.Context, signature string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreate(signature)
	return applyClaim(rec, r.now()), nil
}

func (r *MemorySettlementRepository) ListPending(_ context.Context, olderThan time.Time, limit int) ([]*entities.SettlementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entities.SettlementRecord
	for _, rec := range r.records {
		if rec.Phase == entities.PhasePending && rec.CreatedAt.Before(olderThan) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySettlementRepository) Close() error {
	return nil
}

// getOrCreate must be called with mu held
func (r *MemorySettlementRepository) getOrCreate(signature string) *entities.SettlementRecord {
	rec, ok := r.records[signature]
	if !ok {
		rec = newPendingRecord(signature, entities.PendingInfo{}, r.now())
		r.records[signature] = rec
	}
	return rec
}

var _ repositories.SettlementRepository = (*MemorySettlementRepository)(nil)
