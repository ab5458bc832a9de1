package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cap5/settlement_service/internal/domain/entities"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/internal/domain/services/settlement"
	"github.com/cap5/settlement_service/internal/infrastructure/repositories"
	"github.com/cap5/settlement_service/pkg/idempotency"
	"github.com/cap5/settlement_service/pkg/logger"
)

var testTreasury = classifier.Treasury{
	StablecoinMint:    "USDC",
	StablecoinAccount: "treasuryUsdc",
	IndexMint:         "CAP5",
	Owner:             "treasuryOwner",
}

type fakeExecutor struct {
	calls int
	err   error
}

func (e *fakeExecutor) PayoutForSignature(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &entities.PayoutResult{
		Side:            entities.SideMint,
		PayoutSignature: "payout-" + signature,
		Amount:          1,
		IndexValue:      100,
	}, nil
}

func (e *fakeExecutor) Plan(ctx context.Context, signature string) (*entities.PayoutPlan, error) {
	return &entities.PayoutPlan{
		Side:         entities.SideMint,
		FromUser:     "alice",
		Deposited:    100,
		IndexValue:   100,
		PayoutAmount: 1,
		PayoutMint:   "CAP5",
	}, nil
}

type fakeClassifier struct {
	result *entities.DepositClassification
}

func (c fakeClassifier) Classify(ctx context.Context, signature string) (*entities.DepositClassification, error) {
	return c.result, nil
}

type noopDispatcher struct{}

func (noopDispatcher) Enqueue(ctx context.Context, signature string, fast bool) error { return nil }

type testEnv struct {
	router   *gin.Engine
	repo     *repositories.MemorySettlementRepository
	executor *fakeExecutor
}

func setupSettlementRouter(deposit *entities.DepositClassification) *testEnv {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(nil)
	repo := repositories.NewMemorySettlementRepository()
	exec := &fakeExecutor{}

	svc := settlement.NewService(
		repo,
		fakeClassifier{result: deposit},
		exec,
		noopDispatcher{},
		idempotency.NewMemoryGuard(5*time.Second),
		settlement.Config{Treasury: testTreasury},
		log,
	)
	h := NewSettlementHandlers(svc, log)

	router := gin.New()
	router.POST("/api/helius-webhook", h.HeliusWebhook)
	router.GET("/api/settlements/:sig", h.GetSettlement)
	router.POST("/api/settlements/start", h.StartSettlement)
	router.POST("/api/settlements/payout", h.Payout)
	router.POST("/api/settlements/verify", h.Verify)

	return &testEnv{router: router, repo: repo, executor: exec}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHeliusWebhook_MintDepositQueued(t *testing.T) {
	env := setupSettlementRouter(nil)

	payload := `[{"signature":"sig1","tokenTransfers":[{"mint":"USDC","fromUserAccount":"alice","toUserAccount":"treasuryOwner","toTokenAccount":"treasuryUsdc","tokenAmount":100}]}]`
	code, resp := env.do(t, http.MethodPost, "/api/helius-webhook", payload)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["ok"])
	results := resp["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, map[string]interface{}{"sig": "sig1", "side": "mint", "queued": true}, results[0])

	record, err := env.repo.GetOne(context.Background(), "sig1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, entities.PhasePending, record.Phase)
	assert.Equal(t, entities.SideMint, record.Side)
	assert.Equal(t, 0, env.executor.calls)
}

func TestHeliusWebhook_Envelopes(t *testing.T) {
	env := setupSettlementRouter(nil)

	code, resp := env.do(t, http.MethodPost, "/api/helius-webhook", `{"events":[{"tokenTransfers":[]}]}`)
	assert.Equal(t, http.StatusOK, code)
	results := resp["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, map[string]interface{}{"skipped": true, "reason": "no_signature"}, results[0])

	code, resp = env.do(t, http.MethodPost, "/api/helius-webhook", `{"signature":"sig2","tokenTransfers":[]}`)
	assert.Equal(t, http.StatusOK, code)
	results = resp["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "no_match", results[0].(map[string]interface{})["reason"])
}

func TestHeliusWebhook_AlreadyPaid(t *testing.T) {
	env := setupSettlementRouter(nil)
	require.NoError(t, env.repo.MarkPaid(context.Background(), "sig1", entities.PaidInfo{
		Side:            entities.SideMint,
		PayoutSignature: "payout",
	}))

	payload := `[{"signature":"sig1","tokenTransfers":[{"mint":"USDC","fromUserAccount":"alice","toTokenAccount":"treasuryUsdc","tokenAmount":100}]}]`
	_, resp := env.do(t, http.MethodPost, "/api/helius-webhook", payload)
	results := resp["results"].([]interface{})
	assert.Equal(t, map[string]interface{}{"sig": "sig1", "skipped": true, "reason": "already_paid"}, results[0])
}

func TestHeliusWebhook_MalformedBody(t *testing.T) {
	env := setupSettlementRouter(nil)

	code, resp := env.do(t, http.MethodPost, "/api/helius-webhook", `"nope"`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["ok"])
	assert.NotEmpty(t, resp["error"])
}

func TestStartSettlement(t *testing.T) {
	t.Run("missing signature is a bad request", func(t *testing.T) {
		env := setupSettlementRouter(nil)
		code, resp := env.do(t, http.MethodPost, "/api/settlements/start", map[string]interface{}{"plan": true})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, false, resp["ok"])
	})

	t.Run("invalid json is a bad request", func(t *testing.T) {
		env := setupSettlementRouter(nil)
		code, _ := env.do(t, http.MethodPost, "/api/settlements/start", "{")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("plan only", func(t *testing.T) {
		env := setupSettlementRouter(nil)
		code, resp := env.do(t, http.MethodPost, "/api/settlements/start", map[string]interface{}{"signature": "sig1", "plan": true})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, resp["ok"])
		plan := resp["plan"].(map[string]interface{})
		assert.Equal(t, "mint", plan["side"])
		assert.Equal(t, 0, env.executor.calls)
	})

	t.Run("debounced second call", func(t *testing.T) {
		env := setupSettlementRouter(nil)
		body := map[string]interface{}{"signature": "sig1"}

		code, resp := env.do(t, http.MethodPost, "/api/settlements/start", body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, resp["ok"])

		code, resp = env.do(t, http.MethodPost, "/api/settlements/start", body)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, resp["ok"])
		assert.Equal(t, 1, env.executor.calls)

		body["force"] = true
		_, resp = env.do(t, http.MethodPost, "/api/settlements/start", body)
		assert.Equal(t, true, resp["ok"])
		assert.Equal(t, 2, env.executor.calls)
	})
}

func TestPayout(t *testing.T) {
	env := setupSettlementRouter(nil)

	code, resp := env.do(t, http.MethodPost, "/api/settlements/payout", map[string]interface{}{"signature": "sig1", "fast": true})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["ok"])
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "payout-sig1", result["payoutSignature"])

	env.executor.err = errors.New("rpc down")
	code, resp = env.do(t, http.MethodPost, "/api/settlements/payout", map[string]interface{}{"signature": "sig2"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "rpc down", resp["error"])

	code, _ = env.do(t, http.MethodPost, "/api/settlements/payout", map[string]interface{}{"signature": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVerifyAndQuery(t *testing.T) {
	deposit := &entities.DepositClassification{Kind: entities.SideBurn, FromUser: "bob", UIAmount: 2}
	env := setupSettlementRouter(deposit)

	code, resp := env.do(t, http.MethodGet, "/api/settlements/sig9", nil)
	assert.Equal(t, http.StatusOK, code)
	record := resp["record"].(map[string]interface{})
	assert.Equal(t, "pending", record["phase"])

	code, resp = env.do(t, http.MethodPost, "/api/settlements/verify", map[string]interface{}{"signature": "sig9"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["ok"])
	classification := resp["classification"].(map[string]interface{})
	assert.Equal(t, "burn", classification["kind"])
	plan := resp["plan"].(map[string]interface{})
	assert.Equal(t, "CAP5", plan["payoutMint"])

	stored, err := env.repo.GetOne(context.Background(), "sig9")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "bob", stored.FromUser)
}

func TestVerify_NotADeposit(t *testing.T) {
	env := setupSettlementRouter(nil)

	code, resp := env.do(t, http.MethodPost, "/api/settlements/verify", map[string]interface{}{"signature": "sig1"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "signature does not match mint or burn deposit", resp["error"])

	code, resp = env.do(t, http.MethodGet, "/api/settlements/sig1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["ok"])
	assert.Nil(t, resp["record"])
}
