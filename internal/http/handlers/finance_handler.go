package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/http/handlers/common"
	"github.com/ignatzorin/settlement-backend/internal/service"
)

// FinanceUseCase описывает административные операции с деньгами бронирования.
type FinanceUseCase interface {
	ReleaseEscrow(ctx context.Context, actor entity.Actor, id uuid.UUID) (*service.SettlementResult, error)
	ProcessRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, in service.ProcessRefundInput) (*service.SettlementResult, error)
}

// FinanceHandler обслуживает маршруты /finance.
type FinanceHandler struct {
	finance FinanceUseCase
}

func NewFinanceHandler(finance FinanceUseCase) *FinanceHandler {
	return &FinanceHandler{finance: finance}
}

// ReleaseEscrow обрабатывает POST /finance/escrow/:bookingId/release.
func (h *FinanceHandler) ReleaseEscrow(c *gin.Context) {
	actor, id, ok := actorAndID(c, "bookingId")
	if !ok {
		return
	}

	result, err := h.finance.ReleaseEscrow(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ProcessRefund обрабатывает POST /finance/refunds/:bookingId/process.
func (h *FinanceHandler) ProcessRefund(c *gin.Context) {
	actor, id, ok := actorAndID(c, "bookingId")
	if !ok {
		return
	}

	var req dto.ProcessRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.finance.ProcessRefund(c.Request.Context(), actor, id, service.ProcessRefundInput{
		Approved: *req.Approved,
		Reason:   req.Reason,
		Override: req.Override,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
