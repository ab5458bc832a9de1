package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/cap5/settlement_service/internal/domain/entities"
	"github.com/cap5/settlement_service/internal/domain/repositories"
)

const badgerConflictRetries = 5

// BadgerSettlementRepository persists settlement records in an embedded badger store
type BadgerSettlementRepository struct {
	store *badgerhold.Store
	now   func() time.Time
}

// NewBadgerSettlementRepository opens (or creates) the store under dbDir.
// An empty dbDir runs badger in memory.
func NewBadgerSettlementRepository(dbDir string, logger *zap.Logger) (*BadgerSettlementRepository, error) {
	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement store: %w", err)
	}
	return &BadgerSettlementRepository{store: store, now: time.Now}, nil
}

func createDb(dbDir string, logger *zap.Logger) (*badgerhold.Store, error) {
	opts := badger.DefaultOptions(dbDir)
	if dbDir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = newBadgerLogger(logger)
	opts.Compression = options.ZSTD

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

func (r *BadgerSettlementRepository) PutPending(_ context.Context, signature string, info entities.PendingInfo) error {
	err := r.store.Insert(signature, *newPendingRecord(signature, info, r.now()))
	if err != nil && !errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("failed to put pending settlement: %w", err)
	}
	return nil
}

func (r *BadgerSettlementRepository) MarkPaid(_ context.Context, signature string, info entities.PaidInfo) error {
	return r.update(signature, func(rec *entities.SettlementRecord) (bool, error) {
		return true, applyPaid(rec, info, r.now())
	})
}

func (r *BadgerSettlementRepository) MarkFailed(_ context.Context, signature string, info entities.FailedInfo) error {
	return r.update(signature, func(rec *entities.SettlementRecord) (bool, error) {
		return true, applyFailed(rec, info, r.now())
	})
}

func (r *BadgerSettlementRepository) GetOne(_ context.Context, signature string) (*entities.SettlementRecord, error) {
	var rec entities.SettlementRecord
	if err := r.store.Get(signature, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &rec, nil
}

func (r *BadgerSettlementRepository) Claim(_ context.Context, signature string) (bool, error) {
	claimed := false
	err := r.update(signature, func(rec *entities.SettlementRecord) (bool, error) {
		claimed = applyClaim(rec, r.now())
		return claimed, nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *BadgerSettlementRepository) ListPending(_ context.Context, olderThan time.Time, limit int) ([]*entities.SettlementRecord, error) {
	query := badgerhold.Where("Phase").Eq(entities.PhasePending).Index("Phase").
		And("CreatedAt").Lt(olderThan).
		SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var found []entities.SettlementRecord
	if err := r.store.Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to list pending settlements: %w", err)
	}

	out := make([]*entities.SettlementRecord, 0, len(found))
	for i := range found {
		out = append(out, &found[i])
	}
	return out, nil
}

func (r *BadgerSettlementRepository) Close() error {
	return r.store.Close()
}

// update runs fn against the record (created pending when absent) inside one
// serializable badger transaction, retrying on write conflicts
func (r *BadgerSettlementRepository) update(signature string, fn func(rec *entities.SettlementRecord) (bool, error)) error {
	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		err = r.store.Badger().Update(func(tx *badger.Txn) error {
			var rec entities.SettlementRecord
			getErr := r.store.TxGet(tx, signature, &rec)
			switch {
			case errors.Is(getErr, badgerhold.ErrNotFound):
				rec = *newPendingRecord(signature, entities.PendingInfo{}, r.now())
			case getErr != nil:
				return getErr
			}

			write, fnErr := fn(&rec)
			if fnErr != nil {
				return fnErr
			}
			if !write {
				return nil
			}
			return r.store.TxUpsert(tx, signature, rec)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("settlement %s: %w", signature, err)
}

type badgerLogger struct {
	log *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) badger.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &badgerLogger{log: logger.Named("badger").Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

var _ repositories.SettlementRepository = (*BadgerSettlementRepository)(nil)
