package service

import (
	"context"
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

type OpenDisputeInput struct {
	BookingID      uuid.UUID
	Type           string
	Description    string
	DesiredOutcome string
}

type ResolveDisputeInput struct {
	Outcome    string
	Resolution string
	Notes      string
}

// DisputeResolution возвращает спор после решения и движение денег, если оно было.
type DisputeResolution struct {
	Dispute *entity.Dispute     `json:"dispute"`
	Booking *entity.Booking     `json:"booking"`
	Entry   *entity.LedgerEntry `json:"ledger_entry"`
}

type DisputeService struct {
	settlement
}

func NewDisputeService(deps Deps) *DisputeService {
	return &DisputeService{settlement: newSettlement(deps)}
}

// OpenDispute открывает спор по бронированию. Проверка на активный спор идёт
// под блокировкой бронирования, уникальный индекс в БД её дублирует.
func (s *DisputeService) OpenDispute(ctx context.Context, actor entity.Actor, in OpenDisputeInput) (*entity.Dispute, error) {
	disputeType, err := valueobject.NewDisputeType(in.Type)
	if err != nil {
		return nil, err
	}

	var dispute *entity.Dispute
	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		b, err := tx.LockBooking(ctx, in.BookingID)
		if err != nil {
			return err
		}

		now := s.now()
		d, err := entity.OpenDispute(b, actor, disputeType, in.Description, in.DesiredOutcome, now)
		if err != nil {
			return err
		}

		active, err := tx.FindActiveDispute(ctx, b.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return apperror.ErrActiveDispute
		}

		if err := tx.CreateDispute(ctx, d); err != nil {
			return err
		}

		out.notifyParties(actor, []uuid.UUID{d.CustomerID, d.ProviderID}, "dispute.opened", disputeNotice(d))
		out.publish(events.DisputeOpened, disputeEvent(d, actor, now))
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// GetDispute возвращает спор с перепиской.
func (s *DisputeService) GetDispute(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Dispute, error) {
	d, err := s.Reader.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.CanView(actor) {
		return nil, apperror.ErrForbidden
	}
	return d, nil
}

func (s *DisputeService) ListDisputes(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Dispute, int, error) {
	limit, offset = clampPage(limit, offset)
	filter := repository.DisputeFilter{Limit: limit, Offset: offset}
	if status != "" {
		st, err := valueobject.NewDisputeStatus(status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = st
	}
	if !actor.IsAdmin() {
		id := actor.ID
		filter.PartyID = &id
	}
	return s.Reader.ListDisputes(ctx, filter)
}

// AddMessage добавляет сообщение в переписку.
func (s *DisputeService) AddMessage(ctx context.Context, actor entity.Actor, id uuid.UUID, content string) (*entity.DisputeMessage, error) {
	var message *entity.DisputeMessage
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		d, err := tx.LockDispute(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.disputeBooking(ctx, tx, d, false); err != nil {
			return err
		}

		msg, err := d.AddMessage(actor, content, s.now())
		if err != nil {
			return err
		}
		if err := tx.AppendDisputeMessage(ctx, msg); err != nil {
			return err
		}
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}

		data := disputeNotice(d)
		data["message_id"] = msg.ID
		out.notifyParties(actor, []uuid.UUID{d.CustomerID, d.ProviderID}, "dispute.message", data)
		message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// UpdateStatus меняет статус спора администратором.
func (s *DisputeService) UpdateStatus(ctx context.Context, actor entity.Actor, id uuid.UUID, status, notes string) (*entity.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "менять статус спора может только администратор")
	}
	target, err := valueobject.NewDisputeStatus(status)
	if err != nil {
		return nil, err
	}

	var dispute *entity.Dispute
	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		d, err := tx.LockDispute(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.disputeBooking(ctx, tx, d, false); err != nil {
			return err
		}

		now := s.now()
		msg, err := d.SetStatus(actor, target, notes, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		if msg != nil {
			if err := tx.AppendDisputeMessage(ctx, msg); err != nil {
				return err
			}
		}

		out.notifyParties(actor, []uuid.UUID{d.CustomerID, d.ProviderID}, "dispute.status_changed", disputeNotice(d))
		if target.IsTerminal() {
			out.publish(events.DisputeResolved, disputeEvent(d, actor, now))
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// Resolve закрывает спор решением. Возврат или выплата по исходу выполняются
// в той же транзакции, поэтому решение и деньги не расходятся.
func (s *DisputeService) Resolve(ctx context.Context, actor entity.Actor, id uuid.UUID, in ResolveDisputeInput) (*DisputeResolution, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "решение по спору принимает только администратор")
	}
	outcome, err := valueobject.NewDisputeOutcome(in.Outcome)
	if err != nil {
		return nil, err
	}

	res := &DisputeResolution{}
	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		d, err := tx.LockDispute(ctx, id)
		if err != nil {
			return err
		}
		b, err := s.disputeBooking(ctx, tx, d, true)
		if err != nil {
			return err
		}

		now := s.now()
		msg, err := d.Resolve(actor, outcome, in.Resolution, in.Notes, now)
		if err != nil {
			return err
		}

		entry, err := s.settleOutcome(ctx, tx, d, b, actor, outcome, now)
		if err != nil {
			return err
		}
		if entry != nil {
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
			out.notify(b.CustomerID, "booking.payment_updated", bookingNotice(b))
			out.notify(b.ProviderID, "booking.payment_updated", bookingNotice(b))
		}

		if err := tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		if err := tx.AppendDisputeMessage(ctx, msg); err != nil {
			return err
		}

		out.notifyParties(actor, []uuid.UUID{d.CustomerID, d.ProviderID}, "dispute.resolved", disputeNotice(d))
		out.publish(events.DisputeResolved, disputeEvent(d, actor, now))

		res.Dispute, res.Booking, res.Entry = d, b, entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// settleOutcome выполняет денежную часть решения.
func (s *DisputeService) settleOutcome(ctx context.Context, tx repository.Tx, d *entity.Dispute, b *entity.Booking, actor entity.Actor, outcome valueobject.DisputeOutcome, now time.Time) (*entity.LedgerEntry, error) {
	switch outcome {
	case valueobject.DisputeOutcomeRefundCustomer:
		switch b.PaymentStatus {
		case valueobject.PaymentStatusPending, valueobject.PaymentStatusRefunded:
			return nil, nil
		case valueobject.PaymentStatusReleased:
			return nil, apperror.New(apperror.ErrCodeNotEligible, "средства уже выплачены исполнителю, возврат невозможен")
		case valueobject.PaymentStatusInEscrow:
		default:
			return nil, apperror.New(apperror.ErrCodeIntegrity, "неизвестный статус оплаты "+string(b.PaymentStatus))
		}
		return refundBooking(ctx, tx, s.Log, b, actor, refundNote("возврат по решению спора", *d.Resolution), b.RefundRequested, now)

	case valueobject.DisputeOutcomeReleaseToProvider:
		if b.Status != valueobject.BookingStatusCompleted || b.PaymentStatus != valueobject.PaymentStatusInEscrow {
			return nil, nil
		}
		entries, err := tx.ListLedgerEntries(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		summary, err := ledger.Summarize(entries)
		if err != nil {
			s.Log.WithError(err).WithField("booking_id", b.ID).Error("журнал бронирования не сходится")
			return nil, err
		}
		entry, err := ledger.Release(b, summary, actor, now)
		if err != nil {
			return nil, err
		}
		if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
			return nil, err
		}
		return entry, nil

	case valueobject.DisputeOutcomeNoAction:
		return nil, nil

	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный исход спора "+string(outcome))
	}
}

// disputeBooking загружает бронирование спора. Отсутствие бронирования означает
// нарушение целостности данных, а не ошибку пользователя.
func (s *DisputeService) disputeBooking(ctx context.Context, tx repository.Tx, d *entity.Dispute, lock bool) (*entity.Booking, error) {
	var (
		b   *entity.Booking
		err error
	)
	if lock {
		b, err = tx.LockBooking(ctx, d.BookingID)
	} else {
		b, err = tx.GetBooking(ctx, d.BookingID)
	}
	if err == nil {
		return b, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"booking_id": d.BookingID,
	}).Error("спор ссылается на несуществующее бронирование")
	return nil, apperror.Wrap(err, apperror.ErrCodeIntegrity, "бронирование спора не найдено")
}

func disputeNotice(d *entity.Dispute) map[string]interface{} {
	return map[string]interface{}{
		"dispute_id": d.ID,
		"booking_id": d.BookingID,
		"status":     d.Status,
	}
}

func disputeEvent(d *entity.Dispute, actor entity.Actor, now time.Time) events.DisputeEvent {
	ev := events.DisputeEvent{
		DisputeID:  d.ID,
		BookingID:  d.BookingID,
		Status:     string(d.Status),
		ActorID:    actor.ID,
		OccurredAt: now,
	}
	if d.Outcome != nil {
		ev.Outcome = string(*d.Outcome)
	}
	return ev
}
