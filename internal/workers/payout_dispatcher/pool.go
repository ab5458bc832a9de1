package payout_dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
)

// PoolDispatcher runs payouts on a bounded in-process worker pool
type PoolDispatcher struct {
	pool     *workerpool.WorkerPool
	executor Executor
	timeout  time.Duration
	logger   *logger.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewPoolDispatcher(cfg Config, executor Executor, log *logger.Logger) *PoolDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &PoolDispatcher{
		pool:     workerpool.New(cfg.Workers),
		executor: executor,
		timeout:  cfg.JobTimeout,
		logger:   log,
	}
}

// Enqueue submits a payout. The job does not inherit ctx so it outlives the
// request that queued it.
func (d *PoolDispatcher) Enqueue(_ context.Context, signature string, fast bool) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	metrics.DispatchQueued.WithLabelValues(BackendPool).Inc()
	d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		_ = runPayout(ctx, d.executor, d.logger, signature, fast)
	})
	return nil
}

// WaitingQueueSize reports jobs not yet picked up by a worker
func (d *PoolDispatcher) WaitingQueueSize() int {
	return d.pool.WaitingQueueSize()
}

// Shutdown waits for queued payouts to finish or ctx to end
func (d *PoolDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.pool.StopWait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
