// Package payout_dispatcher runs fast-mode payouts off the request path.
package payout_dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/pkg/logger"
)

const (
	BackendPool  = "pool"
	BackendAsynq = "asynq"

	defaultJobTimeout = 2 * time.Minute
)

// ErrStopped is returned by Enqueue after Shutdown
var ErrStopped = errors.New("payout dispatcher stopped")

// Executor runs one payout
type Executor interface {
	PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error)
}

// Dispatcher queues payouts for background execution
type Dispatcher interface {
	Enqueue(ctx context.Context, signature string, fast bool) error
	Shutdown(ctx context.Context) error
}

// Config selects and sizes the backend
type Config struct {
	Backend    string
	Workers    int
	JobTimeout time.Duration
	Queue      string
}

// New builds the configured dispatcher. The asynq backend needs redis options.
func New(cfg Config, executor Executor, redis *RedisOptions, log *logger.Logger) (Dispatcher, error) {
	switch cfg.Backend {
	case "", BackendPool:
		return NewPoolDispatcher(cfg, executor, log), nil
	case BackendAsynq:
		if redis == nil {
			return nil, fmt.Errorf("asynq dispatcher requires redis configuration")
		}
		return NewAsynqDispatcher(cfg, *redis, log), nil
	default:
		return nil, fmt.Errorf("unknown dispatcher backend %q", cfg.Backend)
	}
}

// runPayout executes a payout and logs the outcome. Already-claimed
// signatures are not errors for a background job.
func runPayout(ctx context.Context, executor Executor, log *logger.Logger, signature string, fast bool) error {
	res, err := executor.PayoutForSignature(ctx, signature, fast)
	if err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyClaimed) {
			log.Debug("Payout already claimed", "signature", signature)
			return nil
		}
		log.Error("Background payout failed", "signature", signature, "error", err)
		return err
	}
	log.Info("Background payout sent",
		"signature", signature,
		"side", res.Side,
		"payout_signature", res.PayoutSignature)
	return nil
}
