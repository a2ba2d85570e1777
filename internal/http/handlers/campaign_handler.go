package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/http/handlers/common"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/service"
)

// CampaignUseCase управляет массовыми рассылками.
type CampaignUseCase interface {
	CreateCampaign(ctx context.Context, actor entity.Actor, draft entity.CampaignDraft) (*entity.Campaign, error)
	UpdateCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID, draft entity.CampaignDraft) (*entity.Campaign, error)
	CancelCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error)
	GetCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error)
	ListCampaigns(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Campaign, int, error)
	DeliveryRecords(ctx context.Context, actor entity.Actor, id uuid.UUID, limit, offset int) ([]entity.DeliveryRecord, int, error)
	SendCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error)
	RedeliverPending(ctx context.Context, actor entity.Actor, id uuid.UUID) (*service.DeliveryReport, error)
	TrackOpen(ctx context.Context, actor entity.Actor, recordID uuid.UUID) (*entity.DeliveryRecord, error)
}

// CampaignHandler обслуживает маршруты /bulk-notifications и /deliveries.
type CampaignHandler struct {
	campaigns CampaignUseCase
}

func NewCampaignHandler(campaigns CampaignUseCase) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// CreateCampaign обрабатывает POST /bulk-notifications.
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	draft, ok := bindCampaignDraft(c)
	if !ok {
		return
	}

	campaign, err := h.campaigns.CreateCampaign(c.Request.Context(), actor, draft)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

// UpdateCampaign обрабатывает PUT /bulk-notifications/:id.
func (h *CampaignHandler) UpdateCampaign(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	draft, ok := bindCampaignDraft(c)
	if !ok {
		return
	}

	campaign, err := h.campaigns.UpdateCampaign(c.Request.Context(), actor, id, draft)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// ListCampaigns обрабатывает GET /bulk-notifications.
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	campaigns, total, err := h.campaigns.ListCampaigns(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	common.RespondList(c, campaigns, total, limit, offset)
}

// GetCampaign обрабатывает GET /bulk-notifications/:id.
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	campaign, err := h.campaigns.GetCampaign(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// SendCampaign обрабатывает POST /bulk-notifications/:id/send.
// Ответ приходит после фиксации получателей, доставка идёт в фоне.
func (h *CampaignHandler) SendCampaign(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	campaign, err := h.campaigns.SendCampaign(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, campaign)
}

// RedeliverPending обрабатывает POST /bulk-notifications/:id/redeliver.
func (h *CampaignHandler) RedeliverPending(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	report, err := h.campaigns.RedeliverPending(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelCampaign обрабатывает POST /bulk-notifications/:id/cancel.
func (h *CampaignHandler) CancelCampaign(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	campaign, err := h.campaigns.CancelCampaign(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// DeliveryRecords обрабатывает GET /bulk-notifications/:id/delivery-records.
func (h *CampaignHandler) DeliveryRecords(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	limit, offset := common.GetPagination(c)
	records, total, err := h.campaigns.DeliveryRecords(c.Request.Context(), actor, id, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	common.RespondList(c, records, total, limit, offset)
}

// TrackOpen обрабатывает POST /deliveries/:id/opened.
func (h *CampaignHandler) TrackOpen(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	record, err := h.campaigns.TrackOpen(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func bindCampaignDraft(c *gin.Context) (entity.CampaignDraft, bool) {
	var req dto.CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return entity.CampaignDraft{}, false
	}

	recipientType, err := valueobject.NewRecipientType(req.RecipientType)
	if err != nil {
		common.RespondAppError(c, err)
		return entity.CampaignDraft{}, false
	}
	channel, err := valueobject.NewNotificationChannel(req.NotificationType)
	if err != nil {
		common.RespondAppError(c, err)
		return entity.CampaignDraft{}, false
	}

	filter := entity.RecipientFilter{
		Departments:  req.CustomFilter.Departments,
		JoinedAfter:  req.CustomFilter.JoinedAfter,
		JoinedBefore: req.CustomFilter.JoinedBefore,
	}
	for _, raw := range req.CustomFilter.Roles {
		role := valueobject.Role(raw)
		if !role.IsValid() {
			common.RespondAppError(c, apperror.New(apperror.ErrCodeValidation, "некорректная роль в фильтре: "+raw))
			return entity.CampaignDraft{}, false
		}
		filter.Roles = append(filter.Roles, role)
	}

	return entity.CampaignDraft{
		Title:            req.Title,
		Content:          req.Content,
		RecipientType:    recipientType,
		CustomRecipients: req.CustomRecipients,
		CustomFilter:     filter,
		NotificationType: channel,
		ScheduledAt:      req.ScheduledAt,
	}, true
}
