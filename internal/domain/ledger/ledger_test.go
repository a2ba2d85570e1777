package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

var now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newBooking(status valueobject.BookingStatus, payment valueobject.PaymentStatus) (*entity.Booking, entity.Actor, entity.Actor) {
	customer := entity.Actor{ID: uuid.New(), Role: valueobject.RoleCustomer}
	admin := entity.Actor{ID: uuid.New(), Role: valueobject.RoleAdmin}
	return &entity.Booking{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		ProviderID:    uuid.New(),
		Status:        status,
		TotalAmount:   50000,
		PaymentStatus: payment,
	}, customer, admin
}

func entry(kind valueobject.LedgerKind, amount valueobject.Money) entity.LedgerEntry {
	return entity.LedgerEntry{ID: uuid.New(), Kind: kind, Amount: amount, Status: valueobject.LedgerStatusCompleted}
}

func TestSummarize(t *testing.T) {
	failed := entry(valueobject.LedgerKindRelease, 50000)
	failed.Status = valueobject.LedgerStatusFailed

	s, err := Summarize([]entity.LedgerEntry{
		entry(valueobject.LedgerKindCapture, 50000),
		entry(valueobject.LedgerKindRefund, 20000),
		failed,
	})

	require.NoError(t, err)
	assert.Equal(t, valueobject.Money(50000), s.Captured)
	assert.Equal(t, valueobject.Money(20000), s.Refunded)
	assert.Zero(t, s.Releases, "failed entries are ignored")
	assert.Equal(t, valueobject.Money(30000), s.Outstanding())
}

func TestSummarize_Overdrawn(t *testing.T) {
	_, err := Summarize([]entity.LedgerEntry{
		entry(valueobject.LedgerKindCapture, 50000),
		entry(valueobject.LedgerKindRelease, 50000),
		entry(valueobject.LedgerKindRefund, 1),
	})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeIntegrity))

	_, err = Summarize([]entity.LedgerEntry{entry("bonus", 1)})
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeIntegrity))
}

func TestCapture(t *testing.T) {
	b, customer, _ := newBooking(valueobject.BookingStatusConfirmed, valueobject.PaymentStatusPending)

	e, err := Capture(b, Summary{}, 50000, " card ", customer, now)

	require.NoError(t, err)
	assert.Equal(t, valueobject.LedgerKindCapture, e.Kind)
	assert.Equal(t, customer.ID, e.ProcessedBy)
	require.NotNil(t, e.Method)
	assert.Equal(t, "card", *e.Method)
	assert.Equal(t, valueobject.PaymentStatusInEscrow, b.PaymentStatus)
}

func TestCapture_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		status  valueobject.BookingStatus
		payment valueobject.PaymentStatus
		summary Summary
		amount  valueobject.Money
		code    apperror.ErrorCode
	}{
		{"already captured", valueobject.BookingStatusConfirmed, valueobject.PaymentStatusInEscrow, Summary{Captures: 1, Captured: 50000}, 50000, apperror.ErrCodeAlreadyCaptured},
		{"cancelled booking", valueobject.BookingStatusCancelled, valueobject.PaymentStatusPending, Summary{}, 50000, apperror.ErrCodePrecondition},
		{"zero amount", valueobject.BookingStatusConfirmed, valueobject.PaymentStatusPending, Summary{}, 0, apperror.ErrCodeValidation},
		{"partial amount", valueobject.BookingStatusConfirmed, valueobject.PaymentStatusPending, Summary{}, 30000, apperror.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, customer, _ := newBooking(tt.status, tt.payment)
			before := *b

			_, err := Capture(b, tt.summary, tt.amount, "", customer, now)

			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, before, *b)
		})
	}
}

func TestRelease(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusInEscrow)
	s := Summary{Captured: 50000, Captures: 1}

	e, err := Release(b, s, admin, now)

	require.NoError(t, err)
	assert.Equal(t, valueobject.Money(50000), e.Amount)
	assert.Equal(t, valueobject.PaymentStatusReleased, b.PaymentStatus)

	_, err = Release(b, Summary{Captured: 50000, Released: 50000, Captures: 1, Releases: 1}, admin, now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeAlreadyProcessed))
}

func TestRelease_NotEligible(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusInProgress, valueobject.PaymentStatusInEscrow)
	_, err := Release(b, Summary{Captured: 50000, Captures: 1}, admin, now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeNotEligible))

	b, _, admin = newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusRefunded)
	_, err = Release(b, Summary{Captured: 50000, Refunded: 50000}, admin, now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeNotEligible))
}

func TestRelease_InconsistentLedger(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusInEscrow)

	_, err := Release(b, Summary{}, admin, now)

	assert.True(t, apperror.HasCode(err, apperror.ErrCodeIntegrity))
	assert.Equal(t, valueobject.PaymentStatusInEscrow, b.PaymentStatus)
}

func TestRefund_CancelsOpenBooking(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusConfirmed, valueobject.PaymentStatusInEscrow)

	e, err := Refund(b, Summary{Captured: 50000, Captures: 1}, admin, "  по решению  ", now)

	require.NoError(t, err)
	assert.Equal(t, valueobject.Money(50000), e.Amount)
	require.NotNil(t, e.Note)
	assert.Equal(t, "по решению", *e.Note)
	assert.Equal(t, valueobject.BookingStatusCancelled, b.Status)
	assert.Equal(t, valueobject.PaymentStatusRefunded, b.PaymentStatus)
	require.NotNil(t, b.CancelledBy)
	assert.Equal(t, admin.ID, *b.CancelledBy)
}

func TestRefund_KeepsCompletedStatus(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusInEscrow)

	_, err := Refund(b, Summary{Captured: 50000, Captures: 1}, admin, "", now)

	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusCompleted, b.Status)
	assert.Nil(t, b.CancelledAt)
}

func TestRefund_Rejections(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusRefunded)
	_, err := Refund(b, Summary{Captured: 50000, Refunded: 50000}, admin, "", now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeAlreadyProcessed))

	b, _, admin = newBooking(valueobject.BookingStatusCompleted, valueobject.PaymentStatusReleased)
	_, err = Refund(b, Summary{Captured: 50000, Released: 50000}, admin, "", now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeNotEligible), "released funds are not clawed back")

	b, _, admin = newBooking(valueobject.BookingStatusConfirmed, valueobject.PaymentStatusPending)
	_, err = Refund(b, Summary{}, admin, "", now)
	assert.True(t, apperror.HasCode(err, apperror.ErrCodeNotEligible))
}

func TestApproveRefund(t *testing.T) {
	b, _, admin := newBooking(valueobject.BookingStatusConfirmed, valueobject.PaymentStatusInEscrow)
	b.RefundRequested = true

	_, err := ApproveRefund(b, Summary{Captured: 50000, Captures: 1}, admin, "ok", now)

	require.NoError(t, err)
	assert.False(t, b.RefundRequested)
	assert.True(t, b.RefundProcessed)
	require.NotNil(t, b.RefundApproved)
	assert.True(t, *b.RefundApproved)
	require.NotNil(t, b.RefundProcessedBy)
	assert.Equal(t, admin.ID, *b.RefundProcessedBy)
}
