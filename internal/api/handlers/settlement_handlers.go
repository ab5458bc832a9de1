package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cap5/settlement_service/internal/domain/entities"
	domainerrors "github.com/cap5/settlement_service/internal/domain/errors"
	"github.com/cap5/settlement_service/internal/domain/services/settlement"
	"github.com/cap5/settlement_service/pkg/logger"
)

// SettlementService is the ingress surface used by the HTTP layer
type SettlementService interface {
	HandleEvents(ctx context.Context, events []entities.HeliusEvent) []entities.WebhookResult
	Start(ctx context.Context, req settlement.StartRequest) (*settlement.StartResult, error)
	Payout(ctx context.Context, signature string, fast bool) (*entities.PayoutResult, error)
	Verify(ctx context.Context, signature string) (*settlement.VerifyResult, error)
	Query(ctx context.Context, signature string) (*entities.SettlementRecord, error)
}

// SettlementHandlers serves the webhook and manual settlement endpoints
type SettlementHandlers struct {
	service SettlementService
	logger  *logger.Logger
}

func NewSettlementHandlers(service SettlementService, logger *logger.Logger) *SettlementHandlers {
	return &SettlementHandlers{service: service, logger: logger}
}

// PayoutRequest triggers a payout without debounce
type PayoutRequest struct {
	Signature string `json:"signature"`
	Fast      bool   `json:"fast"`
}

// VerifyRequest classifies a signature from chain data
type VerifyRequest struct {
	Signature string `json:"signature"`
}

// HeliusWebhook handles deposit notifications
// @Summary Receive Helius deposit notifications
// @Description Accepts an array of enhanced transactions, an {events: [...]} envelope, or a single event. Always answers 200 except on auth failure.
// @Tags settlements
// @Accept json
// @Produce json
// @Param Authorization header string false "Webhook token"
// @Success 200 {object} map[string]interface{} "ok and per-event results"
// @Failure 401 {object} map[string]interface{}
// @Router /api/helius-webhook [post]
func (h *SettlementHandlers) HeliusWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondFailure(c, err)
		return
	}

	events, err := entities.ParseHeliusEvents(body)
	if err != nil {
		h.logger.Warn("Unparseable webhook payload",
			"request_id", getRequestID(c),
			"error", err)
		respondFailure(c, err)
		return
	}

	results := h.service.HandleEvents(c.Request.Context(), events)
	respondOK(c, gin.H{"results": results})
}

// GetSettlement returns the settlement record for a signature
// @Summary Get settlement status
// @Tags settlements
// @Produce json
// @Param sig path string true "Deposit transaction signature"
// @Success 200 {object} map[string]interface{} "record, or a pending view inferred from chain data"
// @Router /api/settlements/{sig} [get]
func (h *SettlementHandlers) GetSettlement(c *gin.Context) {
	sig := strings.TrimSpace(c.Param("sig"))
	if sig == "" {
		respondBadRequest(c, domainerrors.ErrMissingSignature.Error())
		return
	}

	record, err := h.service.Query(c.Request.Context(), sig)
	if err != nil {
		h.fail(c, sig, err)
		return
	}
	respondOK(c, gin.H{"record": record})
}

// StartSettlement plans or executes a payout on demand
// @Summary Start a settlement
// @Description Debounced per signature for a few seconds unless force is set. With plan=true the payout is only computed.
// @Tags settlements
// @Accept json
// @Produce json
// @Param request body settlement.StartRequest true "Signature and flags"
// @Success 200 {object} map[string]interface{} "plan or result"
// @Failure 400 {object} map[string]interface{}
// @Router /api/settlements/start [post]
func (h *SettlementHandlers) StartSettlement(c *gin.Context) {
	var req settlement.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	req.Signature = strings.TrimSpace(req.Signature)
	if req.Signature == "" {
		respondBadRequest(c, domainerrors.ErrMissingSignature.Error())
		return
	}

	res, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		h.fail(c, req.Signature, err)
		return
	}
	if res.Plan != nil {
		respondOK(c, gin.H{"plan": res.Plan})
		return
	}
	respondOK(c, gin.H{"result": res.Payout})
}

// Payout executes a payout without debounce
// @Summary Execute a payout
// @Tags settlements
// @Accept json
// @Produce json
// @Param request body PayoutRequest true "Signature and fast flag"
// @Success 200 {object} map[string]interface{} "result"
// @Failure 400 {object} map[string]interface{}
// @Router /api/settlements/payout [post]
func (h *SettlementHandlers) Payout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	req.Signature = strings.TrimSpace(req.Signature)
	if req.Signature == "" {
		respondBadRequest(c, domainerrors.ErrMissingSignature.Error())
		return
	}

	res, err := h.service.Payout(c.Request.Context(), req.Signature, req.Fast)
	if err != nil {
		h.fail(c, req.Signature, err)
		return
	}
	respondOK(c, gin.H{"result": res})
}

// Verify classifies a deposit from chain data, records it as pending and returns its payout plan
// @Summary Verify a deposit
// @Tags settlements
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Signature"
// @Success 200 {object} map[string]interface{} "classification, record and plan"
// @Failure 400 {object} map[string]interface{}
// @Router /api/settlements/verify [post]
func (h *SettlementHandlers) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	req.Signature = strings.TrimSpace(req.Signature)
	if req.Signature == "" {
		respondBadRequest(c, domainerrors.ErrMissingSignature.Error())
		return
	}

	res, err := h.service.Verify(c.Request.Context(), req.Signature)
	if err != nil {
		h.fail(c, req.Signature, err)
		return
	}
	respondOK(c, gin.H{
		"classification": res.Classification,
		"record":         res.Record,
		"plan":           res.Plan,
	})
}

func (h *SettlementHandlers) fail(c *gin.Context, sig string, err error) {
	if errors.Is(err, domainerrors.ErrMissingSignature) {
		respondBadRequest(c, err.Error())
		return
	}
	level := h.logger.Error
	if errors.Is(err, domainerrors.ErrDebounced) || errors.Is(err, domainerrors.ErrAlreadyClaimed) || errors.Is(err, domainerrors.ErrNotADeposit) {
		level = h.logger.Info
	}
	level("Settlement request failed",
		"request_id", getRequestID(c),
		"signature", sig,
		"code", domainerrors.GetErrorCode(err),
		"error", err)
	respondFailure(c, err)
}
