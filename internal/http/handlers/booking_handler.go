package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/http/handlers/common"
	"github.com/ignatzorin/settlement-backend/internal/service"
)

// BookingUseCase описывает операции бронирования, доступные участникам.
type BookingUseCase interface {
	CreateBooking(ctx context.Context, actor entity.Actor, in service.CreateBookingInput) (*entity.Booking, error)
	GetBooking(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Booking, error)
	ListBookings(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Booking, int, error)
	UpdateStatus(ctx context.Context, actor entity.Actor, id uuid.UUID, target valueobject.BookingStatus) (*entity.Booking, error)
	Cancel(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*service.SettlementResult, error)
	CapturePayment(ctx context.Context, actor entity.Actor, id uuid.UUID, amount valueobject.Money, method string) (*service.SettlementResult, error)
	RequestRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*entity.Booking, error)
	Ledger(ctx context.Context, actor entity.Actor, id uuid.UUID) (*service.LedgerView, error)
}

// BookingHandler обслуживает маршруты бронирований.
type BookingHandler struct {
	bookings BookingUseCase
}

// NewBookingHandler создаёт новый хэндлер.
func NewBookingHandler(bookings BookingUseCase) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking обрабатывает POST /bookings.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	date, err := parseDate(req.ScheduledDate)
	if err != nil {
		common.RespondBadRequest(c, "scheduled_date должна быть в формате YYYY-MM-DD")
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), actor, service.CreateBookingInput{
		ServiceID:     req.ServiceID,
		ScheduledDate: date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Notes:         req.Notes,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// ListBookings обрабатывает GET /bookings?status=&limit=&offset=.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	bookings, total, err := h.bookings.ListBookings(c.Request.Context(), actor, c.Query("status"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	common.RespondList(c, bookings, total, limit, offset)
}

// GetBooking обрабатывает GET /bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// UpdateStatus обрабатывает PATCH /bookings/:id/status.
func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	target, err := valueobject.NewBookingStatus(req.Status)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	booking, err := h.bookings.UpdateStatus(c.Request.Context(), actor, id, target)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// Cancel обрабатывает POST /bookings/:id/cancel.
// Если деньги в эскроу, возврат выполняется в той же транзакции.
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	result, err := h.bookings.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CapturePayment обрабатывает POST /bookings/:id/payment.
func (h *BookingHandler) CapturePayment(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.CapturePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	amount, err := valueobject.ParseMoney(req.Amount)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	result, err := h.bookings.CapturePayment(c.Request.Context(), actor, id, amount, req.Method)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RequestRefund обрабатывает POST /bookings/:id/refund-request.
func (h *BookingHandler) RequestRefund(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.RefundRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	booking, err := h.bookings.RequestRefund(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// Ledger обрабатывает GET /bookings/:id/ledger.
func (h *BookingHandler) Ledger(c *gin.Context) {
	actor, id, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	view, err := h.bookings.Ledger(c.Request.Context(), actor, id)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// actorAndID извлекает пользователя и UUID из пути. При ошибке ответ уже записан.
func actorAndID(c *gin.Context, param string) (entity.Actor, uuid.UUID, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return entity.Actor{}, uuid.Nil, false
	}

	id, err := common.ParseUUIDParam(c, param)
	if err != nil {
		common.RespondBadRequest(c, "неверный идентификатор")
		return entity.Actor{}, uuid.Nil, false
	}

	return actor, id, true
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
