package payout_dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/pkg/logger"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecutor) PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, signature)
	if f.err != nil {
		return nil, f.err
	}
	return &entities.PayoutResult{Side: entities.SideMint, PayoutSignature: "p-" + signature}, nil
}

func (f *fakeExecutor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestPoolDispatcher(t *testing.T) {
	t.Run("runs queued payouts", func(t *testing.T) {
		exec := &fakeExecutor{}
		d := NewPoolDispatcher(Config{Workers: 2, JobTimeout: time.Second}, exec, logger.NewLogger(nil))

		require.NoError(t, d.Enqueue(context.Background(), "sig1", true))
		require.NoError(t, d.Enqueue(context.Background(), "sig2", true))
		require.NoError(t, d.Shutdown(context.Background()))

		assert.ElementsMatch(t, []string{"sig1", "sig2"}, exec.called())
	})

	t.Run("job outlives the enqueuing context", func(t *testing.T) {
		exec := &fakeExecutor{}
		d := NewPoolDispatcher(Config{Workers: 1}, exec, logger.NewLogger(nil))

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, d.Enqueue(ctx, "sig1", true))
		cancel()
		require.NoError(t, d.Shutdown(context.Background()))

		assert.Equal(t, []string{"sig1"}, exec.called())
	})

	t.Run("rejects after shutdown", func(t *testing.T) {
		d := NewPoolDispatcher(Config{}, &fakeExecutor{}, logger.NewLogger(nil))
		require.NoError(t, d.Shutdown(context.Background()))
		assert.ErrorIs(t, d.Enqueue(context.Background(), "sig1", true), ErrStopped)
	})
}

func TestRunPayout(t *testing.T) {
	log := logger.NewLogger(nil)

	assert.NoError(t, runPayout(context.Background(), &fakeExecutor{err: domainerrors.ErrAlreadyClaimed}, log, "sig", true))
	assert.Error(t, runPayout(context.Background(), &fakeExecutor{err: errors.New("boom")}, log, "sig", true))
}

func TestNewPayoutTask(t *testing.T) {
	task, err := NewPayoutTask("sig1", true)
	require.NoError(t, err)
	assert.Equal(t, TypePayout, task.Type())

	var p PayoutPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, PayoutPayload{Signature: "sig1", Fast: true}, p)
}

func TestPayoutTaskHandler(t *testing.T) {
	log := logger.NewLogger(nil)

	t.Run("executes payload", func(t *testing.T) {
		exec := &fakeExecutor{}
		task, _ := NewPayoutTask("sig1", false)
		require.NoError(t, NewPayoutTaskHandler(exec, log).HandlePayoutTask(context.Background(), task))
		assert.Equal(t, []string{"sig1"}, exec.called())
	})

	t.Run("failures are not retried", func(t *testing.T) {
		exec := &fakeExecutor{err: errors.New("boom")}
		task, _ := NewPayoutTask("sig1", false)
		err := NewPayoutTaskHandler(exec, log).HandlePayoutTask(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		task := asynq.NewTask(TypePayout, []byte("{"))
		err := NewPayoutTaskHandler(&fakeExecutor{}, log).HandlePayoutTask(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestNew(t *testing.T) {
	log := logger.NewLogger(nil)

	d, err := New(Config{Backend: BackendPool}, &fakeExecutor{}, nil, log)
	require.NoError(t, err)
	assert.IsType(t, &PoolDispatcher{}, d)
	_ = d.Shutdown(context.Background())

	_, err = New(Config{Backend: BackendAsynq}, &fakeExecutor{}, nil, log)
	assert.Error(t, err)

	_, err = New(Config{Backend: "kafka"}, &fakeExecutor{}, nil, log)
	assert.Error(t, err)
}
