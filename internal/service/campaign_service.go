package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/events"
	"github.com/ignatzorin/settlement-backend/internal/fanout"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

const (
	DefaultStaleAfter = 10 * time.Minute

	dueCampaignBatch   = 50
	staleDeliveryBatch = 500
	maxFailureReason   = 500
)

type CampaignConfig struct {
	InactiveAfter time.Duration
	StaleAfter    time.Duration
}

// DeliveryReport хранит итог одного прохода доставки.
type DeliveryReport struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CampaignService управляет массовыми рассылками и их доставкой.
type CampaignService struct {
	settlement
	deliveries repository.DeliveryStore
	directory  repository.DirectoryReader
	mailer     Mailer
	pool       *fanout.Pool
	cfg        CampaignConfig
	// claimLease: попытка, начатая позже now-claimLease, считается ещё идущей.
	claimLease time.Duration
}

func NewCampaignService(deps Deps, deliveries repository.DeliveryStore, directory repository.DirectoryReader, mailer Mailer, pool *fanout.Pool, cfg CampaignConfig) *CampaignService {
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = fanout.DefaultInactiveAfter
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if pool == nil {
		pool = fanout.NewPool(fanout.DefaultWorkers, fanout.DefaultTaskTimeout)
	}
	return &CampaignService{
		settlement: newSettlement(deps),
		deliveries: deliveries,
		directory:  directory,
		mailer:     mailer,
		pool:       pool,
		cfg:        cfg,
		claimLease: 2 * pool.TaskTimeout(),
	}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, actor entity.Actor, draft entity.CampaignDraft) (*entity.Campaign, error) {
	c, err := entity.NewCampaign(actor, draft, s.now())
	if err != nil {
		return nil, err
	}
	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		return tx.CreateCampaign(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCampaign меняет черновик или запланированную рассылку.
func (s *CampaignService) UpdateCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID, draft entity.CampaignDraft) (*entity.Campaign, error) {
	var campaign *entity.Campaign
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		c, err := tx.LockCampaign(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Update(actor, draft, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}
		campaign = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) CancelCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error) {
	var campaign *entity.Campaign
	err := s.atomically(ctx, func(ctx context.Context, tx repository.Tx, _ *outbox) error {
		c, err := tx.LockCampaign(ctx, id)
		if err != nil {
			return err
		}
		if err := c.Cancel(actor, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}
		campaign = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.Reader.GetCampaign(ctx, id)
}

func (s *CampaignService) ListCampaigns(ctx context.Context, actor entity.Actor, status string, limit, offset int) ([]entity.Campaign, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperror.ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	return s.Reader.ListCampaigns(ctx, repository.CampaignFilter{
		Status: valueobject.CampaignStatus(status),
		Limit:  limit,
		Offset: offset,
	})
}

// DeliveryRecords возвращает страницу записей доставки рассылки.
func (s *CampaignService) DeliveryRecords(ctx context.Context, actor entity.Actor, id uuid.UUID, limit, offset int) ([]entity.DeliveryRecord, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperror.ErrForbidden
	}
	if _, err := s.Reader.GetCampaign(ctx, id); err != nil {
		return nil, 0, err
	}
	limit, offset = clampPage(limit, offset)
	return s.deliveries.ListDeliveryRecords(ctx, id, limit, offset)
}

// SendCampaign фиксирует получателей и статус sent в одной транзакции,
// затем запускает доставку в фоне.
func (s *CampaignService) SendCampaign(ctx context.Context, actor entity.Actor, id uuid.UUID) (*entity.Campaign, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "рассылки доступны только администратору")
	}

	c, records, err := s.commitSend(ctx, id, false)
	if err != nil {
		return nil, err
	}
	s.startDelivery(c, records)
	return c, nil
}

// RedeliverPending синхронно дожимает pending-записи отправленной рассылки.
func (s *CampaignService) RedeliverPending(ctx context.Context, actor entity.Actor, id uuid.UUID) (*DeliveryReport, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	c, err := s.Reader.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != valueobject.CampaignStatusSent {
		return nil, apperror.New(apperror.ErrCodePrecondition, "рассылка ещё не отправлена")
	}

	records, err := s.deliveries.ListPendingDeliveries(ctx, id)
	if err != nil {
		return nil, err
	}
	report := s.Deliver(ctx, c, records)
	return &report, nil
}

// TrackOpen отмечает, что получатель открыл уведомление.
func (s *CampaignService) TrackOpen(ctx context.Context, actor entity.Actor, recordID uuid.UUID) (*entity.DeliveryRecord, error) {
	record, applied, err := s.deliveries.MarkDeliveryOpened(ctx, recordID, actor.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		s.Log.WithFields(logrus.Fields{
			"campaign_id":  record.CampaignID,
			"recipient_id": actor.ID,
		}).Debug("рассылка открыта получателем")
	}
	return record, nil
}

// DispatchDue отправляет запланированные рассылки, время которых наступило.
func (s *CampaignService) DispatchDue(ctx context.Context) (int, error) {
	ids, err := s.deliveries.ListDueCampaigns(ctx, s.now(), dueCampaignBatch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		c, records, err := s.commitSend(ctx, id, true)
		if err != nil {
			if apperror.HasCode(err, apperror.ErrCodeAlreadySent) || apperror.HasCode(err, apperror.ErrCodePrecondition) {
				continue
			}
			s.Log.WithError(err).WithField("campaign_id", id).Error("не удалось отправить запланированную рассылку")
			continue
		}
		s.startDelivery(c, records)
		sent++
	}
	return sent, nil
}

// RetryStale повторяет доставку pending-записей, брошенных после сбоя процесса.
func (s *CampaignService) RetryStale(ctx context.Context) (int, error) {
	records, err := s.deliveries.ListStaleDeliveries(ctx, s.now().Add(-s.cfg.StaleAfter), staleDeliveryBatch)
	if err != nil {
		return 0, err
	}

	byCampaign := make(map[uuid.UUID][]entity.DeliveryRecord)
	order := make([]uuid.UUID, 0)
	for _, r := range records {
		if _, ok := byCampaign[r.CampaignID]; !ok {
			order = append(order, r.CampaignID)
		}
		byCampaign[r.CampaignID] = append(byCampaign[r.CampaignID], r)
	}

	processed := 0
	for _, id := range order {
		c, err := s.Reader.GetCampaign(ctx, id)
		if err != nil {
			s.Log.WithError(err).WithField("campaign_id", id).Error("рассылка для повторной доставки не найдена")
			continue
		}
		report := s.Deliver(ctx, c, byCampaign[id])
		processed += report.Delivered + report.Failed
	}
	return processed, nil
}

// commitSend выполняет транзакционную часть отправки. onlyDue=true используется планировщиком:
// рассылку, которую успели отменить или перенести, он пропускает.
func (s *CampaignService) commitSend(ctx context.Context, id uuid.UUID, onlyDue bool) (*entity.Campaign, []entity.DeliveryRecord, error) {
	users, err := s.directory.ListDirectoryUsers(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		campaign *entity.Campaign
		records  []entity.DeliveryRecord
	)
	err = s.atomically(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		c, err := tx.LockCampaign(ctx, id)
		if err != nil {
			return err
		}

		now := s.now()
		if c.Status == valueobject.CampaignStatusSent {
			return apperror.ErrCampaignSent
		}
		if onlyDue && !c.IsDue(now) {
			return apperror.New(apperror.ErrCodePrecondition, "время отправки рассылки ещё не наступило")
		}

		recipients, err := fanout.ResolveRecipients(c, users, now, s.cfg.InactiveAfter)
		if err != nil {
			return err
		}

		if err := c.MarkSent(len(recipients), now); err != nil {
			return err
		}

		recs := make([]entity.DeliveryRecord, 0, len(recipients))
		for _, rid := range recipients {
			recs = append(recs, entity.DeliveryRecord{
				ID:          uuid.New(),
				CampaignID:  c.ID,
				RecipientID: rid,
				Status:      valueobject.DeliveryStatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
		if err := tx.CreateDeliveryRecords(ctx, recs); err != nil {
			return err
		}
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}

		out.publish(events.CampaignSent, events.CampaignEvent{CampaignID: c.ID, Total: len(recs), OccurredAt: now})
		campaign, records = c, recs
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return campaign, records, nil
}

func (s *CampaignService) startDelivery(c *entity.Campaign, records []entity.DeliveryRecord) {
	if len(records) == 0 {
		return
	}
	s.dispatch(func() {
		report := s.Deliver(context.Background(), c, records)
		s.Log.WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"delivered":   report.Delivered,
			"failed":      report.Failed,
			"skipped":     report.Skipped,
		}).Info("рассылка доставлена")
	})
}

// Deliver выполняет доставку записей пулом воркеров. Итог каждой записи
// сохраняется, как только решилась её попытка. Ошибка одного получателя
// записывается в его запись и не влияет на остальных.
func (s *CampaignService) Deliver(ctx context.Context, c *entity.Campaign, records []entity.DeliveryRecord) DeliveryReport {
	attempts := make([]deliveryAttempt, len(records))
	tasks := make([]fanout.Task, len(records))
	for i := range records {
		rec, attempt := records[i], &attempts[i]
		tasks[i] = func(taskCtx context.Context) error {
			return s.deliverOne(taskCtx, c, rec, attempt)
		}
	}

	var (
		mu     sync.Mutex
		report DeliveryReport
	)
	s.pool.Stream(ctx, tasks, func(res fanout.Result) {
		outcome := s.recordResult(ctx, c, records[res.Index], &attempts[res.Index], res.Err)

		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case outcomeDelivered:
			report.Delivered++
		case outcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	})
	return report
}

type deliveryOutcome int

const (
	outcomeSkipped deliveryOutcome = iota
	outcomeDelivered
	outcomeFailed
)

// deliveryAttempt передаёт состояние попытки из задачи в учёт результата.
// Поля атомарны: после таймаута задача может ещё работать.
type deliveryAttempt struct {
	claimed        atomic.Bool
	notificationID atomic.Pointer[uuid.UUID]
}

func (s *CampaignService) recordResult(ctx context.Context, c *entity.Campaign, rec entity.DeliveryRecord, attempt *deliveryAttempt, taskErr error) deliveryOutcome {
	fields := logrus.Fields{
		"campaign_id":  c.ID,
		"recipient_id": rec.RecipientID,
	}
	// Запись не захвачена: её уже обработали или попытка идёт в другом проходе.
	if !attempt.claimed.Load() {
		if taskErr != nil {
			s.Log.WithError(taskErr).WithFields(fields).Warn("не удалось начать попытку доставки")
		}
		return outcomeSkipped
	}

	status := valueobject.DeliveryStatusDelivered
	if !c.NotificationType.IncludesInApp() {
		status = valueobject.DeliveryStatusSent
	}
	var reason *string
	if taskErr != nil {
		status = valueobject.DeliveryStatusFailed
		msg := truncateRunes(taskErr.Error(), maxFailureReason)
		reason = &msg
	}

	applied, err := s.deliveries.CompleteDelivery(ctx, rec.ID, status, attempt.notificationID.Load(), reason)
	switch {
	case err != nil:
		s.Log.WithError(err).WithFields(fields).Error("не удалось сохранить результат доставки")
		return outcomeSkipped
	case !applied:
		return outcomeSkipped
	case taskErr != nil:
		s.Log.WithError(taskErr).WithFields(fields).Warn("доставка не удалась")
		return outcomeFailed
	default:
		return outcomeDelivered
	}
}

func (s *CampaignService) deliverOne(ctx context.Context, c *entity.Campaign, rec entity.DeliveryRecord, attempt *deliveryAttempt) error {
	now := s.now()
	claimed, existing, err := s.deliveries.ClaimDelivery(ctx, rec.ID, now, now.Add(-s.claimLease))
	if err != nil || !claimed {
		return err
	}
	attempt.claimed.Store(true)

	if existing != nil {
		// In-app уведомление создано прошлой попыткой, повторяем только email.
		attempt.notificationID.Store(existing)
	} else if c.NotificationType.IncludesInApp() {
		n, err := s.Notifier.Notify(ctx, rec.RecipientID, "bulk_notification", map[string]interface{}{
			"campaign_id": c.ID,
			"delivery_id": rec.ID,
			"title":       c.Title,
			"content":     c.Content,
		})
		if err != nil {
			return err
		}
		id := n.ID
		attempt.notificationID.Store(&id)
		// Уведомление уже сохранено, привязываем его даже после таймаута задачи.
		if err := s.deliveries.AttachNotification(context.WithoutCancel(ctx), rec.ID, id); err != nil {
			return err
		}
	}

	if c.NotificationType.IncludesEmail() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mailer.Send(ctx, rec.RecipientID, c.Title, c.Content); err != nil {
			return err
		}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
