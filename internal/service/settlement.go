package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/events"
	"github.com/ignatzorin/settlement-backend/internal/goroutine"
)

const DefaultTxTimeout = 5 * time.Second

// Deps содержит общие зависимости сервисов, работающих через UnitOfWork.
type Deps struct {
	UoW       repository.UnitOfWork
	Reader    repository.Reader
	Notifier  Notifier
	Events    events.Publisher
	Log       *logrus.Logger
	TxTimeout time.Duration
	Clock     func() time.Time
}

// settlement выполняет операцию в транзакции и после фиксации разбирает outbox.
type settlement struct {
	Deps
	// dispatch запускает работу после commit в фоне. В тестах подменяется синхронным вызовом.
	dispatch func(fn func())
}

func newSettlement(d Deps) settlement {
	if d.TxTimeout <= 0 {
		d.TxTimeout = DefaultTxTimeout
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Events == nil {
		d.Events = events.NewNoopPublisher(d.Log)
	}
	return settlement{Deps: d, dispatch: goroutine.SafeGo}
}

func (s settlement) now() time.Time {
	return s.Clock()
}

// atomically выполняет fn в одной транзакции с дедлайном TxTimeout.
// Записи outbox отправляются только после успешного commit.
func (s settlement) atomically(ctx context.Context, fn func(ctx context.Context, tx repository.Tx, out *outbox) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.TxTimeout)
	defer cancel()

	out := &outbox{}
	if err := s.UoW.Do(txCtx, func(ctx context.Context, tx repository.Tx) error {
		out.reset()
		return fn(ctx, tx, out)
	}); err != nil {
		return err
	}

	if len(out.notices) > 0 || len(out.events) > 0 {
		flushCtx := context.WithoutCancel(ctx)
		s.dispatch(func() { s.flush(flushCtx, out) })
	}
	return nil
}

// flush доставляет уведомления и события в фоне, ответ операции их не ждёт.
// Ошибки только логируются: транзакция уже зафиксирована.
func (s settlement) flush(ctx context.Context, out *outbox) {
	for _, n := range out.notices {
		if s.Notifier == nil {
			break
		}
		if _, err := s.Notifier.Notify(ctx, n.userID, n.event, n.data); err != nil {
			s.Log.WithError(err).WithFields(logrus.Fields{
				"recipient_id": n.userID,
				"event":        n.event,
			}).Warn("уведомление не доставлено")
		}
	}
	for _, e := range out.events {
		if err := s.Events.Publish(ctx, e.key, e.body); err != nil {
			s.Log.WithError(err).WithField("routing_key", e.key).Warn("событие не опубликовано")
		}
	}
}

type notice struct {
	userID uuid.UUID
	event  string
	data   interface{}
}

type domainEvent struct {
	key  string
	body interface{}
}

// outbox копит побочные эффекты операции до фиксации транзакции.
type outbox struct {
	notices []notice
	events  []domainEvent
}

func (o *outbox) reset() {
	o.notices = o.notices[:0]
	o.events = o.events[:0]
}

func (o *outbox) notify(userID uuid.UUID, event string, data interface{}) {
	o.notices = append(o.notices, notice{userID: userID, event: event, data: data})
}

// notifyParties уведомляет участников, кроме инициатора действия.
func (o *outbox) notifyParties(actor entity.Actor, parties []uuid.UUID, event string, data interface{}) {
	for _, id := range parties {
		if id == actor.ID {
			continue
		}
		o.notify(id, event, data)
	}
}

func (o *outbox) publish(key string, body interface{}) {
	o.events = append(o.events, domainEvent{key: key, body: body})
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
