package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/ledger"
	"github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/events"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

// CreateBookingInput содержит данные нового бронирования.
type CreateBookingInput struct {
	ServiceID     uuid.UUID
	ScheduledDate time.Time
	StartTime     string
	EndTime       string
	Notes         string
}

// ProcessRefundInput содержит решение администратора по возврату.
type ProcessRefundInput struct {
	Approved bool
	Reason   string
	Override bool
}

// SettlementResult возвращает бронирование и созданную запись журнала, если она была.
type SettlementResult struct {
	Booking *entity.Booking     `json:"booking"`
	Entry   *entity.LedgerEntry `json:"ledger_entry"`
}

// LedgerView представляет журнал бронирования с агрегатами.
type LedgerView struct {
	Entries     []entity.LedgerEntry `json:"entries"`
	Summary     ledger.Summary       `json:"summary"`
	Outstanding valueobject.Money    `json:"outstanding"`
}

// BookingService ведёт жизненный цикл бронирования и расчёты по нему.
type BookingService struct {
	settlement
	catalog repository.CatalogReader
}

func NewBookingService(deps Deps, catalog repository.CatalogReader) *BookingService {
	return &BookingService{settlement: newSettlement(deps), catalog: catalog}
}

// CreateBooking создаёт бронирование по услуге каталога.
func (s *BookingService) CreateBooking(ctx context.Context, actor entity.Actor, in CreateBookingInput) (*entity.Booking, error) {
	svc, err := s.catalog.GetService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}

	var window *entity.TimeWindow
	if in.StartTime != "" || in.EndTime != "" {
		window = &entity.TimeWindow{Start: strings.TrimSpace(in.StartTime), End: strings.TrimSpace(in.EndTime)}
	}

	now := s.now()
	booking, err := entity.NewBooking(actor.ID, svc, in.ScheduledDate, window, in.Notes, now)
	if err != nil {
		return nil, err
	}

	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		if err := tx.CreateBooking(ctx, booking); err != nil {
			return err
		}
		out.notify(booking.ProviderID, "booking.created", bookingNotice(booking))
		out.publish(events.BookingCreated, bookingEvent(booking, actor, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// GetBooking возвращает бронирование участнику или администратору.
func (s *BookingService) GetBooking(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Booking, error) {
	booking, err := s.Reader.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !booking.CanView(actor) {
		return nil, apperror.ErrForbidden
	}
	return booking, nil
}

// ListBookings возвращает администратору все бронирования, остальным только свои.
func (s *BookingService) ListBookings(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Booking, int, error) {
	limit, offset = clampPage(limit, offset)
	filter := repository.BookingFilter{Limit: limit, Offset: offset}
	if status != "" {
		st, err := valueobject.NewBookingStatus(status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = st
	}
	if !actor.IsAdmin() {
		id := actor.ID
		filter.PartyID = &id
	}
	return s.Reader.ListBookings(ctx, filter)
}

// UpdateStatus переводит бронирование в новый статус. Отмена идёт через Cancel,
// чтобы удержанные средства вернулись в той же транзакции.
func (s *BookingService) UpdateStatus(ctx context.Context, actor entity.Actor, id uuid.UUID, target valueobject.BookingStatus) (*entity.Booking, error) {
	if target == valueobject.BookingStatusCancelled {
		res, err := s.Cancel(ctx, actor, id, "")
		if err != nil {
			return nil, err
		}
		return res.Booking, nil
	}

	var booking *entity.Booking
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if err := b.Transition(actor, target, now); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		out.notifyParties(actor, []uuid.UUID{b.CustomerID, b.ProviderID}, "booking.status_changed", bookingNotice(b))
		out.publish(events.BookingStatus, bookingEvent(b, actor, now))
		if target == valueobject.BookingStatusCompleted {
			out.notify(b.CustomerID, "booking.review_available", map[string]interface{}{
				"booking_id": b.ID,
				"service_id": b.ServiceID,
			})
			out.publish(events.BookingCompleted, bookingEvent(b, actor, now))
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// Cancel отменяет бронирование. Если средства на удержании, в той же транзакции
// создаётся компенсирующий возврат.
func (s *BookingService) Cancel(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*SettlementResult, error) {
	res := &SettlementResult{}
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		needsRefund, err := b.Cancel(actor, reason, now)
		if err != nil {
			return err
		}

		res.Entry = nil
		if needsRefund {
			entry, err := refundBooking(ctx, tx, s.Log, b, actor, refundNote("автоматический возврат при отмене", reason), b.RefundRequested, now)
			if err != nil {
				return err
			}
			res.Entry = entry
			out.notify(b.CustomerID, "refund.processed", refundNotice(b, true))
			out.publish(events.RefundProcessed, bookingEvent(b, actor, now))
		}

		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		out.notifyParties(actor, []uuid.UUID{b.CustomerID, b.ProviderID}, "booking.cancelled", bookingNotice(b))
		out.publish(events.BookingCancelled, bookingEvent(b, actor, now))
		res.Booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CapturePayment удерживает оплату клиента.
func (s *BookingService) CapturePayment(ctx context.Context, actor entity.Actor, id uuid.UUID, amount valueobject.Money, method string) (*SettlementResult, error) {
	res := &SettlementResult{}
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		if !b.CanView(actor) {
			return apperror.ErrForbidden
		}

		summary, err := s.summary(ctx, tx, b)
		if err != nil {
			return err
		}

		now := s.now()
		entry, err := ledger.Capture(b, summary, amount, method, actor, now)
		if err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		out.notify(b.ProviderID, "payment.captured", bookingNotice(b))
		ev := bookingEvent(b, actor, now)
		ev.Amount = entry.Amount.Minor()
		out.publish(events.PaymentCaptured, ev)

		res.Booking, res.Entry = b, entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReleaseEscrow выплачивает удержанные средства исполнителю. Открытый спор
// по бронированию блокирует выплату.
func (s *BookingService) ReleaseEscrow(ctx context.Context, actor entity.Actor, id uuid.UUID) (*SettlementResult, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "выплату выполняет только администратор")
	}

	res := &SettlementResult{}
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}

		summary, err := s.summary(ctx, tx, b)
		if err != nil {
			return err
		}

		now := s.now()
		entry, err := ledger.Release(b, summary, actor, now)
		if err != nil {
			return err
		}

		active, err := tx.FindActiveDispute(ctx, b.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperror.New(apperror.ErrCodePrecondition, "по бронированию открыт спор, выплата приостановлена")
		}

		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		out.notify(b.ProviderID, "escrow.released", bookingNotice(b))
		ev := bookingEvent(b, actor, now)
		ev.Amount = entry.Amount.Minor()
		out.publish(events.EscrowReleased, ev)

		res.Booking, res.Entry = b, entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RequestRefund регистрирует просьбу клиента вернуть удержанные средства.
func (s *BookingService) RequestRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, reason string) (*entity.Booking, error) {
	var booking *entity.Booking
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := b.RequestRefund(actor, reason, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		out.notify(b.ProviderID, "refund.requested", bookingNotice(b))
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// ProcessRefund применяет решение администратора по запросу возврата.
// Без запроса клиента возврат возможен только с override.
func (s *BookingService) ProcessRefund(ctx context.Context, actor entity.Actor, id uuid.UUID, in ProcessRefundInput) (*SettlementResult, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "возвраты обрабатывает только администратор")
	}

	res := &SettlementResult{}
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}

		if !b.RefundRequested && !in.Override {
			if b.RefundProcessed {
				return apperror.New(apperror.ErrCodeAlreadyProcessed, "запрос на возврат уже обработан")
			}
			return apperror.New(apperror.ErrCodePrecondition, "клиент не запрашивал возврат")
		}

		now := s.now()
		res.Entry = nil
		if in.Approved {
			entry, err := refundBooking(ctx, tx, s.Log, b, actor, in.Reason, true, now)
			if err != nil {
				return err
			}
			res.Entry = entry
			out.publish(events.RefundProcessed, bookingEvent(b, actor, now))
		} else {
			b.RejectRefund(actor, in.Reason, now)
		}

		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		out.notify(b.CustomerID, "refund.processed", refundNotice(b, in.Approved))
		if in.Approved {
			out.notify(b.ProviderID, "refund.processed", refundNotice(b, true))
		}
		res.Booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Ledger возвращает журнал движения средств по бронированию.
func (s *BookingService) Ledger(ctx context.Context, actor entity.Actor, id uuid.UUID) (*LedgerView, error) {
	booking, err := s.GetBooking(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	entries, err := s.Reader.ListLedgerEntries(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	summary, err := ledger.Summarize(entries)
	if err != nil {
		s.Log.WithError(err).WithField("booking_id", booking.ID).Error("журнал бронирования не сходится")
		return nil, err
	}
	return &LedgerView{Entries: entries, Summary: summary, Outstanding: summary.Outstanding()}, nil
}

func (s *BookingService) summary(ctx context.Context, tx repository.Tx, b *entity.Booking) (ledger.Summary, error) {
	entries, err := tx.ListLedgerEntries(ctx, b.ID)
	if err != nil {
		return ledger.Summary{}, err
	}
	summary, err := ledger.Summarize(entries)
	if err != nil {
		s.Log.WithError(err).WithField("booking_id", b.ID).Error("журнал бронирования не сходится")
		return ledger.Summary{}, err
	}
	return summary, nil
}

// refundBooking используется для любого возврата: отмена, решение администратора
// и решение спора. markRequest закрывает запрос клиента на возврат.
func refundBooking(ctx context.Context, tx repository.Tx, log *logrus.Logger, b *entity.Booking, actor entity.Actor, reason string, markRequest bool, now time.Time) (*entity.LedgerEntry, error) {
	entries, err := tx.ListLedgerEntries(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	summary, err := ledger.Summarize(entries)
	if err != nil {
		log.WithError(err).WithField("booking_id", b.ID).Error("журнал бронирования не сходится")
		return nil, err
	}

	var entry *entity.LedgerEntry
	if markRequest {
		entry, err = ledger.ApproveRefund(b, summary, actor, reason, now)
	} else {
		entry, err = ledger.Refund(b, summary, actor, reason, now)
	}
	if err != nil {
		if apperror.HasCode(err, apperror.ErrCodeIntegrity) {
			log.WithError(err).WithField("booking_id", b.ID).Error("возврат нарушает баланс журнала")
		}
		return nil, err
	}

	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func refundNote(prefix, reason string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return prefix + ": " + r
	}
	return prefix
}

func bookingNotice(b *entity.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":     b.ID,
		"service_id":     b.ServiceID,
		"status":         b.Status,
		"payment_status": b.PaymentStatus,
	}
}

func refundNotice(b *entity.Booking, approved bool) map[string]interface{} {
	n := bookingNotice(b)
	n["approved"] = approved
	return n
}

func bookingEvent(b *entity.Booking, actor entity.Actor, now time.Time) events.BookingEvent {
	return events.BookingEvent{
		BookingID:  b.ID,
		ServiceID:  b.ServiceID,
		CustomerID: b.CustomerID,
		ProviderID: b.ProviderID,
		Status:     string(b.Status),
		Payment:    string(b.PaymentStatus),
		ActorID:    actor.ID,
		OccurredAt: now,
	}
}
