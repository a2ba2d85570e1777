package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

// DeliveryRepository ведёт учёт доставки рассылок по получателям.
type DeliveryRepository struct {
	db *sqlx.DB
}

func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

var _ domainrepo.DeliveryStore = (*DeliveryRepository)(nil)

// ListDeliveryRecords возвращает страницу записей доставки.
func (r *DeliveryRepository) ListDeliveryRecords(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]entity.DeliveryRecord, int, error) {
	total, err := common.Count(ctx, r.db, "notification_deliveries", "campaign_id = $1", campaignID)
	if err != nil {
		return nil, 0, fmt.Errorf("delivery repository: %w", err)
	}

	var records []entity.DeliveryRecord
	query := `
		SELECT * FROM notification_deliveries
		WHERE campaign_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &records, query, campaignID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("delivery repository: list %w", err)
	}
	return records, total, nil
}

// ListPendingDeliveries возвращает ещё не обработанные записи рассылки.
func (r *DeliveryRepository) ListPendingDeliveries(ctx context.Context, campaignID uuid.UUID) ([]entity.DeliveryRecord, error) {
	var records []entity.DeliveryRecord
	query := `SELECT * FROM notification_deliveries WHERE campaign_id = $1 AND status = 'pending' ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &records, query, campaignID); err != nil {
		return nil, fmt.Errorf("delivery repository: list pending %w", err)
	}
	return records, nil
}

// ListStaleDeliveries находит pending-записи, застрявшие после сбоя процесса.
func (r *DeliveryRepository) ListStaleDeliveries(ctx context.Context, before time.Time, limit int) ([]entity.DeliveryRecord, error) {
	var records []entity.DeliveryRecord
	query := `
		SELECT * FROM notification_deliveries
		WHERE status = 'pending' AND COALESCE(last_attempt_at, created_at) < $1
		ORDER BY created_at
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &records, query, before, limit); err != nil {
		return nil, fmt.Errorf("delivery repository: list stale %w", err)
	}
	return records, nil
}

// ListDueCampaigns возвращает запланированные рассылки, время которых наступило.
func (r *DeliveryRepository) ListDueCampaigns(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `
		SELECT id FROM bulk_notifications
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("delivery repository: list due campaigns %w", err)
	}
	return ids, nil
}

// ClaimDelivery атомарно захватывает pending-запись для новой попытки.
func (r *DeliveryRepository) ClaimDelivery(ctx context.Context, recordID uuid.UUID, at, staleBefore time.Time) (bool, *uuid.UUID, error) {
	var notificationID uuid.NullUUID
	query := `
		UPDATE notification_deliveries
		SET attempts = attempts + 1, last_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
			AND (last_attempt_at IS NULL OR last_attempt_at < $3)
		RETURNING notification_id
	`
	if err := r.db.GetContext(ctx, &notificationID, query, recordID, at, staleBefore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("delivery repository: claim %w", err)
	}
	if !notificationID.Valid {
		return true, nil, nil
	}
	return true, &notificationID.UUID, nil
}

// AttachNotification сохраняет id in-app уведомления, если он ещё не записан.
func (r *DeliveryRepository) AttachNotification(ctx context.Context, recordID, notificationID uuid.UUID) error {
	query := `
		UPDATE notification_deliveries
		SET notification_id = $2, updated_at = NOW()
		WHERE id = $1 AND notification_id IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, recordID, notificationID); err != nil {
		return fmt.Errorf("delivery repository: attach notification %w", err)
	}
	return nil
}

// CompleteDelivery фиксирует итог попытки и атомарно увеличивает счётчик рассылки.
// Условие status = 'pending' исключает двойной учёт при повторной доставке.
func (r *DeliveryRepository) CompleteDelivery(ctx context.Context, recordID uuid.UUID, status valueobject.DeliveryStatus, notificationID *uuid.UUID, reason *string) (bool, error) {
	var counter string
	switch status {
	case valueobject.DeliveryStatusDelivered, valueobject.DeliveryStatusSent:
		counter = "delivered"
	case valueobject.DeliveryStatusFailed:
		counter = "failed"
	case valueobject.DeliveryStatusPending, valueobject.DeliveryStatusOpened:
		return false, fmt.Errorf("delivery repository: complete with status %q", status)
	default:
		return false, fmt.Errorf("delivery repository: unknown status %q", status)
	}

	applied := false
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var campaignID uuid.UUID
		query := `
			UPDATE notification_deliveries
			SET status = $2, notification_id = COALESCE($3, notification_id), failure_reason = $4, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING campaign_id
		`
		if err := tx.GetContext(ctx, &campaignID, query, recordID, status, notificationID, reason); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("delivery repository: complete %w", err)
		}

		statsQuery := fmt.Sprintf(`UPDATE bulk_notifications SET %[1]s = %[1]s + 1, updated_at = NOW() WHERE id = $1`, counter)
		if _, err := tx.ExecContext(ctx, statsQuery, campaignID); err != nil {
			return fmt.Errorf("delivery repository: increment %s %w", counter, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// MarkDeliveryOpened отмечает прочтение получателем. Повторная отметка не увеличивает счётчик.
func (r *DeliveryRepository) MarkDeliveryOpened(ctx context.Context, recordID, recipientID uuid.UUID) (*entity.DeliveryRecord, bool, error) {
	var (
		record  entity.DeliveryRecord
		applied bool
	)
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `SELECT * FROM notification_deliveries WHERE id = $1 AND recipient_id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &record, query, recordID, recipientID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.ErrDeliveryNotFound
			}
			return fmt.Errorf("delivery repository: get for open %w", err)
		}

		switch record.Status {
		case valueobject.DeliveryStatusOpened:
			return nil
		case valueobject.DeliveryStatusDelivered, valueobject.DeliveryStatusSent:
		case valueobject.DeliveryStatusPending, valueobject.DeliveryStatusFailed:
			return apperror.New(apperror.ErrCodePrecondition, "уведомление ещё не доставлено")
		default:
			return apperror.New(apperror.ErrCodeIntegrity, "неизвестный статус доставки "+string(record.Status))
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE notification_deliveries SET status = 'opened', updated_at = $2 WHERE id = $1`, recordID, now); err != nil {
			return fmt.Errorf("delivery repository: mark opened %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bulk_notifications SET opened = opened + 1, updated_at = $2 WHERE id = $1`, record.CampaignID, now); err != nil {
			return fmt.Errorf("delivery repository: increment opened %w", err)
		}
		record.Status = valueobject.DeliveryStatusOpened
		record.UpdatedAt = now
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &record, applied, nil
}
