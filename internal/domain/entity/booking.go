package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// ServiceSnapshot хранит то, что каталог сообщает об услуге в момент бронирования.
type ServiceSnapshot struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	ProviderID uuid.UUID         `db:"provider_id" json:"provider_id"`
	Title      string            `db:"title" json:"title"`
	Price      valueobject.Money `db:"price" json:"price"`
	IsActive   bool              `db:"is_active" json:"is_active"`
}

// TimeWindow задаёт необязательный интервал внутри дня, формат "15:04".
type TimeWindow struct {
	Start string
	End   string
}

type Booking struct {
	ID                uuid.UUID                 `db:"id" json:"id"`
	CustomerID        uuid.UUID                 `db:"customer_id" json:"customer_id"`
	ProviderID        uuid.UUID                 `db:"provider_id" json:"provider_id"`
	ServiceID         uuid.UUID                 `db:"service_id" json:"service_id"`
	ScheduledDate     time.Time                 `db:"scheduled_date" json:"scheduled_date"`
	StartTime         *string                   `db:"start_time" json:"start_time,omitempty"`
	EndTime           *string                   `db:"end_time" json:"end_time,omitempty"`
	Status            valueobject.BookingStatus `db:"status" json:"status"`
	TotalAmount       valueobject.Money         `db:"total_amount" json:"total_amount"`
	PaymentStatus     valueobject.PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod     *string                   `db:"payment_method" json:"payment_method,omitempty"`
	Notes             *string                   `db:"notes" json:"notes,omitempty"`
	CancelReason      *string                   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy       *uuid.UUID                `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time                `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundRequested   bool                      `db:"refund_requested" json:"refund_requested"`
	RefundRequestedAt *time.Time                `db:"refund_requested_at" json:"refund_requested_at,omitempty"`
	RefundProcessed   bool                      `db:"refund_processed" json:"refund_processed"`
	RefundApproved    *bool                     `db:"refund_approved" json:"refund_approved,omitempty"`
	RefundReason      *string                   `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundProcessedBy *uuid.UUID                `db:"refund_processed_by" json:"refund_processed_by,omitempty"`
	RefundProcessedAt *time.Time                `db:"refund_processed_at" json:"refund_processed_at,omitempty"`
	CreatedAt         time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                 `db:"updated_at" json:"updated_at"`
}

func NewBooking(customerID uuid.UUID, service *ServiceSnapshot, date time.Time, window *TimeWindow, notes string, now time.Time) (*Booking, error) {
	if service == nil || !service.IsActive {
		return nil, apperror.New(apperror.ErrCodeValidation, "услуга недоступна для бронирования")
	}
	if customerID == service.ProviderID {
		return nil, apperror.ErrSelfBooking
	}
	if date.IsZero() {
		return nil, apperror.New(apperror.ErrCodeValidation, "дата бронирования обязательна")
	}

	b := &Booking{
		ID:            uuid.New(),
		CustomerID:    customerID,
		ProviderID:    service.ProviderID,
		ServiceID:     service.ID,
		ScheduledDate: date,
		Status:        valueobject.BookingStatusPending,
		TotalAmount:   service.Price,
		PaymentStatus: valueobject.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if window != nil {
		start, err := time.Parse("15:04", window.Start)
		if err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "время начала должно быть в формате ЧЧ:ММ")
		}
		end, err := time.Parse("15:04", window.End)
		if err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, "время окончания должно быть в формате ЧЧ:ММ")
		}
		if !end.After(start) {
			return nil, apperror.New(apperror.ErrCodeValidation, "время окончания должно быть позже времени начала")
		}
		b.StartTime = &window.Start
		b.EndTime = &window.End
	}

	if n := strings.TrimSpace(notes); n != "" {
		b.Notes = &n
	}

	return b, nil
}

func (b *Booking) IsParty(userID uuid.UUID) bool {
	return b.CustomerID == userID || b.ProviderID == userID
}

// CanView разрешает просмотр участникам и администратору.
func (b *Booking) CanView(actor Actor) bool {
	return actor.IsAdmin() || b.IsParty(actor.ID)
}

// Counterparty возвращает второго участника бронирования.
func (b *Booking) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == b.CustomerID {
		return b.ProviderID
	}
	return b.CustomerID
}

// Transition переводит бронирование в новый статус с проверкой прав и предусловий.
func (b *Booking) Transition(actor Actor, target valueobject.BookingStatus, now time.Time) error {
	if !target.IsValid() {
		return apperror.New(apperror.ErrCodeValidation, "некорректный статус бронирования")
	}
	if !b.CanView(actor) {
		return apperror.ErrForbidden
	}
	if b.Status == target {
		return apperror.ErrStatusConflict
	}
	if b.Status.IsTerminal() {
		return apperror.ErrAlreadyTerminal
	}
	if !b.Status.CanTransitionTo(target) {
		return apperror.New(apperror.ErrCodeInvalidTransition,
			"переход из статуса "+string(b.Status)+" в "+string(target)+" недопустим")
	}

	switch target {
	case valueobject.BookingStatusConfirmed, valueobject.BookingStatusInProgress, valueobject.BookingStatusCompleted:
		if !actor.IsAdmin() && actor.ID != b.ProviderID {
			return apperror.New(apperror.ErrCodeForbidden, "только исполнитель может изменить этот статус")
		}
	case valueobject.BookingStatusCancelled:
		if b.Status == valueobject.BookingStatusInProgress && !actor.IsAdmin() {
			return apperror.New(apperror.ErrCodeForbidden, "начатое бронирование может отменить только администратор")
		}
	case valueobject.BookingStatusPending:
		return apperror.New(apperror.ErrCodeInvalidTransition, "возврат в статус pending недопустим")
	default:
		return apperror.New(apperror.ErrCodeValidation, "некорректный статус бронирования")
	}

	if target == valueobject.BookingStatusCompleted && !b.PaymentStatus.HasCapturedFunds() {
		return apperror.New(apperror.ErrCodePrecondition, "нельзя завершить бронирование без оплаты")
	}

	b.Status = target
	b.UpdatedAt = now
	return nil
}

// Cancel отменяет бронирование и сообщает, нужен ли компенсирующий возврат.
func (b *Booking) Cancel(actor Actor, reason string, now time.Time) (needsRefund bool, err error) {
	if b.Status.IsTerminal() && b.CanView(actor) {
		return false, apperror.ErrAlreadyTerminal
	}
	if err := b.Transition(actor, valueobject.BookingStatusCancelled, now); err != nil {
		return false, err
	}

	reason = strings.TrimSpace(reason)
	if reason != "" {
		b.CancelReason = &reason
	}
	by := actor.ID
	at := now
	b.CancelledBy = &by
	b.CancelledAt = &at

	return b.PaymentStatus == valueobject.PaymentStatusInEscrow, nil
}

// RequestRefund выставляет флаг запроса возврата от клиента.
func (b *Booking) RequestRefund(actor Actor, reason string, now time.Time) error {
	if actor.ID != b.CustomerID {
		return apperror.New(apperror.ErrCodeForbidden, "запросить возврат может только клиент")
	}
	if b.PaymentStatus != valueobject.PaymentStatusInEscrow {
		return apperror.New(apperror.ErrCodeNotEligible, "возврат возможен только для средств на удержании")
	}
	if b.RefundRequested {
		return apperror.New(apperror.ErrCodeAlreadyProcessed, "запрос на возврат уже подан")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperror.New(apperror.ErrCodeValidation, "укажите причину возврата")
	}

	at := now
	b.RefundRequested = true
	b.RefundRequestedAt = &at
	b.RefundProcessed = false
	b.RefundApproved = nil
	b.RefundReason = &reason
	b.UpdatedAt = now
	return nil
}

// RejectRefund снимает флаг запроса без движения денег.
func (b *Booking) RejectRefund(actor Actor, reason string, now time.Time) {
	b.markRefundProcessed(actor, false, reason, now)
}

func (b *Booking) markRefundProcessed(actor Actor, approved bool, reason string, now time.Time) {
	by := actor.ID
	at := now
	b.RefundRequested = false
	b.RefundProcessed = true
	b.RefundApproved = &approved
	b.RefundProcessedBy = &by
	b.RefundProcessedAt = &at
	if reason = strings.TrimSpace(reason); reason != "" {
		b.RefundReason = &reason
	}
	b.UpdatedAt = now
}
