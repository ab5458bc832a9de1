package payout_dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/metrics"
	"github.com/cap5/settlement_service/pkg/tracing"
)

const (
	TypePayout   = "settlement:payout"
	defaultQueue = "payouts"
)

// RedisOptions locates the asynq broker
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func (o RedisOptions) clientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
		PoolSize: o.PoolSize,
	}
}

type PayoutPayload struct {
	Signature string `json:"signature"`
	Fast      bool   `json:"fast"`
}

// NewPayoutTask builds a payout task. The signature doubles as task id so a
// signature is queued at most once at a time. Payouts are never retried: a
// failed payout is terminal.
func NewPayoutTask(signature string, fast bool) (*asynq.Task, error) {
	payload, err := json.Marshal(PayoutPayload{Signature: signature, Fast: fast})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePayout, payload, asynq.TaskID(signature), asynq.MaxRetry(0)), nil
}

// AsynqDispatcher enqueues payouts on a redis-backed queue
type AsynqDispatcher struct {
	client  *asynq.Client
	queue   string
	timeout asynq.Option
	logger  *logger.Logger
}

func NewAsynqDispatcher(cfg Config, redis RedisOptions, log *logger.Logger) *AsynqDispatcher {
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &AsynqDispatcher{
		client:  asynq.NewClient(redis.clientOpt()),
		queue:   cfg.Queue,
		timeout: asynq.Timeout(cfg.JobTimeout),
		logger:  log,
	}
}

func (d *AsynqDispatcher) Enqueue(ctx context.Context, signature string, fast bool) error {
	ctx, span := tracing.Tracer("payout_dispatcher").Start(ctx, "AsynqDispatcher.Enqueue")
	defer span.End()

	task, err := NewPayoutTask(signature, fast)
	if err != nil {
		return err
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.String("task_type", task.Type()), attribute.String("signature", signature))
	}

	_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue), d.timeout)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		d.logger.Debug("Payout already queued", "signature", signature)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue payout: %w", err)
	}
	metrics.DispatchQueued.WithLabelValues(BackendAsynq).Inc()
	return nil
}

func (d *AsynqDispatcher) Shutdown(context.Context) error {
	return d.client.Close()
}

// PayoutTaskHandler consumes payout tasks
type PayoutTaskHandler struct {
	executor Executor
	logger   *logger.Logger
}

func NewPayoutTaskHandler(executor Executor, log *logger.Logger) *PayoutTaskHandler {
	return &PayoutTaskHandler{executor: executor, logger: log}
}

func (h *PayoutTaskHandler) HandlePayoutTask(ctx context.Context, t *asynq.Task) error {
	var p PayoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payout payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := runPayout(ctx, h.executor, h.logger, p.Signature, p.Fast); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return nil
}

// AsynqWorker runs the payout consumer until its context ends
type AsynqWorker struct {
	redis       RedisOptions
	concurrency int
	queue       string
	handler     *PayoutTaskHandler
	logger      *logger.Logger
}

func NewAsynqWorker(cfg Config, redis RedisOptions, executor Executor, log *logger.Logger) *AsynqWorker {
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &AsynqWorker{
		redis:       redis,
		concurrency: cfg.Workers,
		queue:       cfg.Queue,
		handler:     NewPayoutTaskHandler(executor, log),
		logger:      log,
	}
}

func (w *AsynqWorker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePayout, w.handler.HandlePayoutTask)
	w.logger.Info("Registered task handler", "type", TypePayout, "queue", w.queue)

	server := asynq.NewServer(w.redis.clientOpt(), asynq.Config{
		Concurrency: w.concurrency,
		Queues:      map[string]int{w.queue: 1},
		Logger:      w.logger.Zap().Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			w.logger.Warn("Payout task failed", "type", task.Type(), "error", err)
		}),
	})
	if err := server.Start(mux); err != nil {
		return err
	}
	<-ctx.Done()
	server.Shutdown()
	return nil
}
