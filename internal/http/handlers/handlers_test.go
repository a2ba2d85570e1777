package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/dto"
	"github.com/ignatzorin/settlement-backend/internal/http/middleware"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/service"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) CreateBooking(ctx context.Context, actor entity.Actor, in service.CreateBookingInput) (*entity.Booking, error) {
	args := m.Called(ctx, actor, in)
	b, _ := args.Get(0).(*entity.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) GetBooking(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Booking, error) {
	args := m.Called(ctx, actor, id)
	b, _ := args.Get(0).(*entity.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) ListBookings(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Booking, int, error) {
	args := m.Called(ctx, actor, status, limit, offset)
	b, _ := args.Get(0).([]entity.Booking)
	return b, args.Int(1), args.Error(2)
}

func (m *mockBookings) UpdateStatus(ctx context.Context, actor entity.Actor, id uuid.UUID, target valueobject.BookingStatus) (*entity.Booking, error) {
	args := m.Called(ctx, actor, id, target)
	b, _ := args.Get(0).(*entity.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Cancel(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*service.SettlementResult, error) {
	args := m.Called(ctx, actor, id, reason)
	r, _ := args.Get(0).(*service.SettlementResult)
	return r, args.Error(1)
}

func (m *mockBookings) CapturePayment(ctx context.Context, actor entity.Actor, id uuid.UUID, amount valueobject.Money, method string) (*service.SettlementResult, error) {
	args := m.Called(ctx, actor, id, amount, method)
	r, _ := args.Get(0).(*service.SettlementResult)
	return r, args.Error(1)
}

func (m *mockBookings) RequestRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*entity.Booking, error) {
	args := m.Called(ctx, actor, id, reason)
	b, _ := args.Get(0).(*entity.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Ledger(ctx context.Context, actor entity.Actor, id uuid.UUID) (*service.LedgerView, error) {
	args := m.Called(ctx, actor, id)
	v, _ := args.Get(0).(*service.LedgerView)
	return v, args.Error(1)
}

func (m *mockBookings) ReleaseEscrow(ctx context.Context, actor entity.Actor, id uuid.UUID) (*service.SettlementResult, error) {
	args := m.Called(ctx, actor, id)
	r, _ := args.Get(0).(*service.SettlementResult)
	return r, args.Error(1)
}

func (m *mockBookings) ProcessRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, in service.ProcessRefundInput) (*service.SettlementResult, error) {
	args := m.Called(ctx, actor, id, in)
	r, _ := args.Get(0).(*service.SettlementResult)
	return r, args.Error(1)
}

func withActor(actor entity.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, actor.ID)
		c.Set(middleware.ContextRoleKey, string(actor.Role))
		c.Next()
	}
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBookingHandler_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewBookingHandler(nil)
	r.POST("/bookings", handler.CreateBooking)
	r.GET("/bookings/:id", handler.GetBooking)

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, "POST", "/bookings", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(r, "GET", "/bookings/"+uuid.NewString(), nil).Code)
}

func TestBookingHandler_GetBooking_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	r := gin.New()
	r.GET("/bookings/:id", withActor(actor), NewBookingHandler(nil).GetBooking)

	w := doJSON(r, "GET", "/bookings/invalid-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_CreateBooking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	serviceID := uuid.New()

	bookings := new(mockBookings)
	bookings.On("CreateBooking", mock.Anything, actor, mock.MatchedBy(func(in service.CreateBookingInput) bool {
		return in.ServiceID == serviceID && in.ScheduledDate.Format("2006-01-02") == "2026-11-01" && in.StartTime == "10:00"
	})).Return(&entity.Booking{ID: uuid.New(), ServiceID: serviceID, Status: valueobject.BookingStatusPending}, nil)

	r := gin.New()
	r.POST("/bookings", withActor(actor), NewBookingHandler(bookings).CreateBooking)

	w := doJSON(r, "POST", "/bookings", dto.CreateBookingRequest{
		ServiceID:     serviceID,
		ScheduledDate: "2026-11-01",
		StartTime:     "10:00",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	bookings.AssertExpectations(t)
}

func TestBookingHandler_CreateBooking_BadDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	r := gin.New()
	r.POST("/bookings", withActor(actor), NewBookingHandler(new(mockBookings)).CreateBooking)

	w := doJSON(r, "POST", "/bookings", dto.CreateBookingRequest{ServiceID: uuid.New(), ScheduledDate: "01.11.2026"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_UpdateStatus_MapsDomainErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleProvider}
	id := uuid.New()

	cases := []struct {
		name   string
		err    error
		status int
		code   apperror.ErrorCode
	}{
		{"invalid transition", apperror.New(apperror.ErrCodeInvalidTransition, "переход запрещён"), http.StatusConflict, apperror.ErrCodeInvalidTransition},
		{"forbidden", apperror.ErrForbidden, http.StatusForbidden, apperror.ErrCodeForbidden},
		{"concurrent loser", apperror.ErrStatusConflict, http.StatusConflict, apperror.ErrCodeConflict},
		{"not found", apperror.ErrBookingNotFound, http.StatusNotFound, apperror.ErrCodeNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bookings := new(mockBookings)
			bookings.On("UpdateStatus", mock.Anything, actor, id, valueobject.BookingStatusConfirmed).Return(nil, tc.err)

			r := gin.New()
			r.PATCH("/bookings/:id/status", withActor(actor), NewBookingHandler(bookings).UpdateStatus)

			w := doJSON(r, "PATCH", "/bookings/"+id.String()+"/status", dto.UpdateBookingStatusRequest{Status: "confirmed"})
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, string(tc.code), decodeError(t, w).Code)
		})
	}
}

func TestBookingHandler_UpdateStatus_UnknownStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleProvider}
	r := gin.New()
	r.PATCH("/bookings/:id/status", withActor(actor), NewBookingHandler(new(mockBookings)).UpdateStatus)

	w := doJSON(r, "PATCH", "/bookings/"+uuid.NewString()+"/status", dto.UpdateBookingStatusRequest{Status: "disputed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperror.ErrCodeValidation), decodeError(t, w).Code)
}

func TestBookingHandler_CapturePayment_ParsesAmount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	id := uuid.New()

	bookings := new(mockBookings)
	bookings.On("CapturePayment", mock.Anything, actor, id, valueobject.Money(50000), "card").
		Return(&service.SettlementResult{Booking: &entity.Booking{ID: id}}, nil)

	r := gin.New()
	r.POST("/bookings/:id/payment", withActor(actor), NewBookingHandler(bookings).CapturePayment)

	w := doJSON(r, "POST", "/bookings/"+id.String()+"/payment", dto.CapturePaymentRequest{Amount: "500.00", Method: "card"})
	assert.Equal(t, http.StatusOK, w.Code)
	bookings.AssertExpectations(t)

	w = doJSON(r, "POST", "/bookings/"+id.String()+"/payment", dto.CapturePaymentRequest{Amount: "-5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_Cancel_EmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	id := uuid.New()

	bookings := new(mockBookings)
	bookings.On("Cancel", mock.Anything, actor, id, "").
		Return(&service.SettlementResult{Booking: &entity.Booking{ID: id, Status: valueobject.BookingStatusCancelled}}, nil)

	r := gin.New()
	r.POST("/bookings/:id/cancel", withActor(actor), NewBookingHandler(bookings).Cancel)

	req, _ := http.NewRequest("POST", "/bookings/"+id.String()+"/cancel", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	bookings.AssertExpectations(t)
}

func TestBookingHandler_InternalErrorIsMasked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}

	bookings := new(mockBookings)
	bookings.On("ListBookings", mock.Anything, actor, "", 20, 0).
		Return(nil, 0, assert.AnError)

	r := gin.New()
	r.GET("/bookings", withActor(actor), NewBookingHandler(bookings).ListBookings)

	w := doJSON(r, "GET", "/bookings", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, string(apperror.ErrCodeInternal), resp.Code)
	assert.NotContains(t, resp.Error, assert.AnError.Error())
}

func TestBookingHandler_ListBookings_Page(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := entity.Actor{ID: uuid.New(), Role: valueobject.RoleProvider}

	bookings := new(mockBookings)
	bookings.On("ListBookings", mock.Anything, actor, "confirmed", 10, 5).
		Return([]entity.Booking{{ID: uuid.New()}}, 6, nil)

	r := gin.New()
	r.GET("/bookings", withActor(actor), NewBookingHandler(bookings).ListBookings)

	w := doJSON(r, "GET", "/bookings?status=confirmed&limit=10&offset=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 5, resp.Offset)
}

func TestFinanceHandler_ProcessRefund(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := entity.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()

	finance := new(mockBookings)
	finance.On("ProcessRefund", mock.Anything, admin, id, service.ProcessRefundInput{Approved: false, Reason: "no"}).
		Return(&service.SettlementResult{Booking: &entity.Booking{ID: id}}, nil)

	r := gin.New()
	r.POST("/finance/refunds/:bookingId/process", withActor(admin), NewFinanceHandler(finance).ProcessRefund)

	approved := false
	w := doJSON(r, "POST", "/finance/refunds/"+id.String()+"/process", dto.ProcessRefundRequest{Approved: &approved, Reason: "no"})
	assert.Equal(t, http.StatusOK, w.Code)
	finance.AssertExpectations(t)

	w = doJSON(r, "POST", "/finance/refunds/"+id.String()+"/process", map[string]string{"reason": "missing decision"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFinanceHandler_ReleaseEscrow_AlreadyProcessed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	admin := entity.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	id := uuid.New()

	finance := new(mockBookings)
	finance.On("ReleaseEscrow", mock.Anything, admin, id).
		Return(nil, apperror.New(apperror.ErrCodeAlreadyProcessed, "выплата уже проведена"))

	r := gin.New()
	r.POST("/finance/escrow/:bookingId/release", withActor(admin), NewFinanceHandler(finance).ReleaseEscrow)

	w := doJSON(r, "POST", "/finance/escrow/"+id.String()+"/release", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(apperror.ErrCodeAlreadyProcessed), decodeError(t, w).Code)
}

func TestCurrentActor_UnknownRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/bookings", withActor(entity.Actor{ID: uuid.New(), Role: "superuser"}), NewBookingHandler(nil).ListBookings)

	assert.Equal(t, http.StatusUnauthorized, doJSON(r, "GET", "/bookings", nil).Code)
}
