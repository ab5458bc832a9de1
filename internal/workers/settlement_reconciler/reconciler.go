// Package settlement_reconciler re-drives pending settlements that never
// reached a payout, such as deposits sighted while fast mode was off.
package settlement_reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/repositories"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
)

// Config holds configuration for the reconciler
type Config struct {
	Enabled        bool
	Schedule       string
	Threshold      time.Duration
	BatchSize      int
	MaxConcurrency int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Schedule:       "@every 1m",
		Threshold:      2 * time.Minute,
		BatchSize:      50,
		MaxConcurrency: 4,
	}
}

// Executor runs one payout
type Executor interface {
	PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error)
}

// RunStats summarises one sweep
type RunStats struct {
	Candidates int
	Paid       int
	Failed     int
	Skipped    int
}

// Reconciler sweeps stale pending settlements
type Reconciler struct {
	config   Config
	repo     repositories.SettlementRepository
	executor Executor
	logger   *logger.Logger
	now      func() time.Time

	runsCounter       metric.Int64Counter
	recoveredCounter  metric.Int64Counter
	failedCounter     metric.Int64Counter
	durationHistogram metric.Float64Histogram

	cron    *cron.Cron
	running sync.Mutex
}

// NewReconciler creates a reconciler
func NewReconciler(config Config, repo repositories.SettlementRepository, executor Executor, log *logger.Logger) (*Reconciler, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}

	meter := otel.Meter("settlement-reconciliation")

	runsCounter, err := meter.Int64Counter(
		"reconciliation.runs.total",
		metric.WithDescription("Total number of reconciliation runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	recoveredCounter, err := meter.Int64Counter(
		"reconciliation.recovered.total",
		metric.WithDescription("Total number of settlements paid by reconciliation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovered counter: %w", err)
	}

	failedCounter, err := meter.Int64Counter(
		"reconciliation.failed.total",
		metric.WithDescription("Total number of settlements that failed during reconciliation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"reconciliation.duration.seconds",
		metric.WithDescription("Reconciliation duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Reconciler{
		config:            config,
		repo:              repo,
		executor:          executor,
		logger:            log,
		now:               time.Now,
		runsCounter:       runsCounter,
		recoveredCounter:  recoveredCounter,
		failedCounter:     failedCounter,
		durationHistogram: durationHistogram,
	}, nil
}

// Start schedules sweeps on the configured cron spec
func (r *Reconciler) Start(ctx context.Context) error {
	if !r.config.Enabled {
		r.logger.Info("Settlement reconciler is disabled")
		return nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.config.Schedule, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", r.config.Schedule, err)
	}
	r.cron.Start()

	r.logger.Info("Settlement reconciler started",
		"schedule", r.config.Schedule,
		"threshold", r.config.Threshold,
		"batch_size", r.config.BatchSize,
	)
	return nil
}

// Shutdown stops scheduling and waits for a running sweep
func (r *Reconciler) Shutdown(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		r.logger.Info("Settlement reconciler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconciler shutdown: %w", ctx.Err())
	}
}

// tick skips a run when the previous one is still in flight
func (r *Reconciler) tick(ctx context.Context) {
	if !r.running.TryLock() {
		r.logger.Warn("Previous reconciliation run still in progress, skipping")
		return
	}
	defer r.running.Unlock()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("Reconciliation run failed", "error", err)
	}
}

// RunOnce sweeps one batch of pending settlements older than the threshold
func (r *Reconciler) RunOnce(ctx context.Context) (*RunStats, error) {
	startTime := r.now()
	r.runsCounter.Add(ctx, 1)

	candidates, err := r.repo.ListPending(ctx, startTime.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		metrics.ReconcilerRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list pending settlements: %w", err)
	}

	stats := &RunStats{Candidates: len(candidates)}
	if len(candidates) == 0 {
		metrics.ReconcilerRuns.WithLabelValues("empty").Inc()
		r.durationHistogram.Record(ctx, time.Since(startTime).Seconds())
		return stats, nil
	}

	r.logger.Info("Found pending settlements to reconcile", "count", len(candidates))

	var paid, failed, skipped int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)

	for _, rec := range candidates {
		rec := rec
		if rec.IsClaimed() {
			atomic.AddInt64(&skipped, 1)
			if startTime.Sub(*rec.ClaimedAt) > r.config.Threshold {
				r.logger.Warn("Settlement claimed but never finalized, needs operator review",
					"signature", rec.Signature,
					"claimed_at", rec.ClaimedAt)
			}
			continue
		}

		g.Go(func() error {
			_, err := r.executor.PayoutForSignature(gctx, rec.Signature, false)
			switch {
			case err == nil:
				atomic.AddInt64(&paid, 1)
				metrics.ReconcilerRedriven.Inc()
			case errors.Is(err, domainerrors.ErrAlreadyClaimed):
				atomic.AddInt64(&skipped, 1)
			default:
				atomic.AddInt64(&failed, 1)
				r.logger.Warn("Reconciled payout failed",
					"signature", rec.Signature,
					"error", err)
			}
			// per-record failures are recorded on the record, not fatal to the sweep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Paid = int(paid)
	stats.Failed = int(failed)
	stats.Skipped = int(skipped)

	duration := time.Since(startTime)
	r.recoveredCounter.Add(ctx, paid)
	r.failedCounter.Add(ctx, failed)
	r.durationHistogram.Record(ctx, duration.Seconds())
	metrics.ReconcilerRuns.WithLabelValues("ok").Inc()

	r.logger.Info("Reconciliation run completed",
		"duration", duration,
		"total_candidates", stats.Candidates,
		"paid", stats.Paid,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	return stats, nil
}
