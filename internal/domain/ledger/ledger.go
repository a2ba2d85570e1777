// Package ledger содержит правила движения денег по бронированию:
// удержание (capture), выплату исполнителю (release) и возврат клиенту (refund).
//
// Функции пакета не обращаются к хранилищу. Они проверяют инварианты по уже
// загруженным записям и возвращают новую запись, которую вызывающий код
// сохраняет в той же транзакции, что и изменённое бронирование.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// Summary агрегирует завершённые записи по одному бронированию.
type Summary struct {
	Captured valueobject.Money `json:"captured"`
	Released valueobject.Money `json:"released"`
	Refunded valueobject.Money `json:"refunded"`
	Captures int               `json:"captures"`
	Releases int               `json:"releases"`
	Refunds  int               `json:"refunds"`
}

// Outstanding возвращает удержанные средства, которые ещё не выплачены и не возвращены.
func (s Summary) Outstanding() valueobject.Money {
	return s.Captured - s.Released - s.Refunded
}

func Summarize(entries []entity.LedgerEntry) (Summary, error) {
	var s Summary
	for _, e := range entries {
		if e.Status != valueobject.LedgerStatusCompleted {
			continue
		}
		switch e.Kind {
		case valueobject.LedgerKindCapture:
			s.Captured += e.Amount
			s.Captures++
		case valueobject.LedgerKindRelease:
			s.Released += e.Amount
			s.Releases++
		case valueobject.LedgerKindRefund:
			s.Refunded += e.Amount
			s.Refunds++
		default:
			return Summary{}, apperror.New(apperror.ErrCodeIntegrity, fmt.Sprintf("неизвестный тип записи %q", e.Kind))
		}
	}
	if s.Released+s.Refunded > s.Captured {
		return Summary{}, apperror.New(apperror.ErrCodeIntegrity, "сумма выплат и возвратов превышает удержание")
	}
	return s, nil
}

// Capture фиксирует поступление средств клиента на удержание.
func Capture(b *entity.Booking, s Summary, amount valueobject.Money, method string, actor entity.Actor, now time.Time) (*entity.LedgerEntry, error) {
	if !actor.IsAdmin() && actor.ID != b.CustomerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "оплатить бронирование может только клиент")
	}
	if s.Captures > 0 || b.PaymentStatus != valueobject.PaymentStatusPending {
		return nil, apperror.ErrAlreadyCaptured
	}
	if b.Status.IsTerminal() {
		return nil, apperror.New(apperror.ErrCodePrecondition, "нельзя оплатить завершённое или отменённое бронирование")
	}
	if !amount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	if amount != b.TotalAmount {
		return nil, apperror.New(apperror.ErrCodeValidation,
			fmt.Sprintf("сумма оплаты %s не совпадает со стоимостью бронирования %s", amount, b.TotalAmount))
	}

	entry := newEntry(b, valueobject.LedgerKindCapture, amount, actor, now)
	if m := strings.TrimSpace(method); m != "" {
		entry.Method = &m
		b.PaymentMethod = &m
	}

	b.PaymentStatus = valueobject.PaymentStatusInEscrow
	b.UpdatedAt = now
	return entry, nil
}

// Release выплачивает всю удержанную сумму исполнителю.
func Release(b *entity.Booking, s Summary, actor entity.Actor, now time.Time) (*entity.LedgerEntry, error) {
	if b.PaymentStatus == valueobject.PaymentStatusReleased {
		return nil, apperror.New(apperror.ErrCodeAlreadyProcessed, "средства уже выплачены")
	}
	if b.Status != valueobject.BookingStatusCompleted || b.PaymentStatus != valueobject.PaymentStatusInEscrow {
		return nil, apperror.New(apperror.ErrCodeNotEligible, "выплата возможна только для завершённого бронирования с удержанными средствами")
	}

	entry := newEntry(b, valueobject.LedgerKindRelease, s.Outstanding(), actor, now)
	if err := checkPayout(s, entry.Amount); err != nil {
		return nil, err
	}

	b.PaymentStatus = valueobject.PaymentStatusReleased
	b.UpdatedAt = now
	return entry, nil
}

// Refund обслуживает любой возврат: ручной возврат, автоматический при отмене
// и возврат по решению спора. Выплаченные средства назад не забираются.
func Refund(b *entity.Booking, s Summary, actor entity.Actor, reason string, now time.Time) (*entity.LedgerEntry, error) {
	if b.PaymentStatus == valueobject.PaymentStatusRefunded {
		return nil, apperror.New(apperror.ErrCodeAlreadyProcessed, "средства уже возвращены")
	}
	if b.PaymentStatus != valueobject.PaymentStatusInEscrow {
		return nil, apperror.New(apperror.ErrCodeNotEligible, "возврат возможен только для средств на удержании")
	}

	entry := newEntry(b, valueobject.LedgerKindRefund, s.Outstanding(), actor, now)
	if reason = strings.TrimSpace(reason); reason != "" {
		entry.Note = &reason
	}
	if err := checkPayout(s, entry.Amount); err != nil {
		return nil, err
	}

	b.PaymentStatus = valueobject.PaymentStatusRefunded
	if !b.Status.IsTerminal() {
		b.Status = valueobject.BookingStatusCancelled
		if b.CancelledAt == nil {
			by := actor.ID
			at := now
			b.CancelledBy = &by
			b.CancelledAt = &at
		}
	}
	b.UpdatedAt = now
	return entry, nil
}

// ApproveRefund выполняет возврат и отмечает запрос обработанным.
func ApproveRefund(b *entity.Booking, s Summary, actor entity.Actor, reason string, now time.Time) (*entity.LedgerEntry, error) {
	entry, err := Refund(b, s, actor, reason, now)
	if err != nil {
		return nil, err
	}
	approved := true
	by := actor.ID
	at := now
	b.RefundRequested = false
	b.RefundProcessed = true
	b.RefundApproved = &approved
	b.RefundProcessedBy = &by
	b.RefundProcessedAt = &at
	if entry.Note != nil {
		b.RefundReason = entry.Note
	}
	return entry, nil
}

func checkPayout(s Summary, amount valueobject.Money) error {
	if !amount.IsPositive() {
		return apperror.New(apperror.ErrCodeIntegrity, "нет удержанных средств для операции")
	}
	if s.Released+s.Refunded+amount > s.Captured {
		return apperror.New(apperror.ErrCodeIntegrity, "операция превысит удержанную сумму")
	}
	return nil
}

func newEntry(b *entity.Booking, kind valueobject.LedgerKind, amount valueobject.Money, actor entity.Actor, now time.Time) *entity.LedgerEntry {
	return &entity.LedgerEntry{
		ID:          uuid.New(),
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		ProviderID:  b.ProviderID,
		Amount:      amount,
		Kind:        kind,
		Status:      valueobject.LedgerStatusCompleted,
		ProcessedBy: actor.ID,
		CreatedAt:   now,
	}
}
