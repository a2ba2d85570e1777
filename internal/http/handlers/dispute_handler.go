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

type DisputeUseCase interface {
	OpenDispute(ctx context.Context, actor entity.Actor, in service.OpenDisputeInput) (*entity.Dispute, error)
	GetDispute(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Dispute, error)
	ListDisputes(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Dispute, int, error)
	AddMessage(ctx context.Context, actor entity.Actor, id uuid.UUID, content string) (*entity.DisputeMessage, error)
	UpdateStatus(ctx context.Context, actor entity.Actor, id uuid.UUID, status, notes string) (*entity.Dispute, error)
	Resolve(ctx context.Context, actor entity.Actor, id uuid.UUID, in service.ResolveDisputeInput) (*service.DisputeResolution, error)
}

type DisputeHandler struct {
	svc DisputeUseCase
}

func NewDisputeHandler(s DisputeUseCase) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// CreateDispute POST /disputes
func (h *DisputeHandler) CreateDispute(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.OpenDispute(c.Request.Context(), actor, service.OpenDisputeInput{
		BookingID:      req.BookingID,
		Type:           req.Type,
		Description:    req.Description,
		DesiredOutcome: req.DesiredOutcome,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// GetDispute GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ListDisputes GET /disputes
func (h *DisputeHandler) ListDisputes(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, total, err := h.svc.ListDisputes(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	common.RespondList(c, disputes, total, limit, offset)
}

// AddMessage POST /disputes/:id/messages
func (h *DisputeHandler) AddMessage(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.DisputeMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	msg, err := h.svc.AddMessage(c.Request.Context(), actor, id, req.Content)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateStatus PATCH /disputes/:id/status
func (h *DisputeHandler) UpdateStatus(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateDisputeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.UpdateStatus(c.Request.Context(), actor, id, req.Status, req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// Resolve POST /disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.svc.Resolve(c.Request.Context(), actor, id, service.ResolveDisputeInput{
		Outcome:    req.Outcome,
		Resolution: req.Resolution,
		Notes:      req.Notes,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
