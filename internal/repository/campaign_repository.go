package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

const deliveryInsertBatch = 500

// CreateCampaign сохраняет новую рассылку.
func (s *Store) CreateCampaign(ctx context.Context, c *entity.Campaign) error {
	query := `
		INSERT INTO bulk_notifications (
			id, title, content, recipient_type, custom_recipients, custom_filter, notification_type,
			status, scheduled_at, created_by, total, delivered, failed, opened, created_at, updated_at
		) VALUES (
			:id, :title, :content, :recipient_type, :custom_recipients, :custom_filter, :notification_type,
			:status, :scheduled_at, :created_by, :total, :delivered, :failed, :opened, :created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, c); err != nil {
		return fmt.Errorf("campaign repository: create %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error) {
	return common.GetByID[entity.Campaign](ctx, s.q, "bulk_notifications", id, false, apperror.ErrCampaignNotFound)
}

// LockCampaign не даёт двум отправкам одной рассылки пройти одновременно.
func (s *Store) LockCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error) {
	return common.GetByID[entity.Campaign](ctx, s.q, "bulk_notifications", id, true, apperror.ErrCampaignNotFound)
}

// UpdateCampaign сохраняет содержимое, статус и итоговое количество получателей.
// Счётчики delivered/failed/opened меняются только атомарными инкрементами.
func (s *Store) UpdateCampaign(ctx context.Context, c *entity.Campaign) error {
	query := `
		UPDATE bulk_notifications SET
			title = :title,
			content = :content,
			recipient_type = :recipient_type,
			custom_recipients = :custom_recipients,
			custom_filter = :custom_filter,
			notification_type = :notification_type,
			status = :status,
			scheduled_at = :scheduled_at,
			sent_at = :sent_at,
			total = :total,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := sqlx.NamedExecContext(ctx, s.q, query, c)
	if err != nil {
		return fmt.Errorf("campaign repository: update %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repository: update rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.ErrCampaignNotFound
	}
	return nil
}

// CreateDeliveryRecords вставляет pending-записи пачками.
func (s *Store) CreateDeliveryRecords(ctx context.Context, records []entity.DeliveryRecord) error {
	inserter := common.NewBatchInserter(s.q,
		`INSERT INTO notification_deliveries (id, campaign_id, recipient_id, status, attempts, created_at, updated_at)`,
		7, deliveryInsertBatch)

	for _, r := range records {
		if err := inserter.Add(ctx, r.ID, r.CampaignID, r.RecipientID, r.Status, r.Attempts, r.CreatedAt, r.UpdatedAt); err != nil {
			return fmt.Errorf("campaign repository: create deliveries %w", err)
		}
	}
	if err := inserter.Flush(ctx); err != nil {
		return fmt.Errorf("campaign repository: create deliveries %w", err)
	}
	return nil
}

// ListCampaigns возвращает рассылки с фильтром по статусу.
func (s *Store) ListCampaigns(ctx context.Context, filter domainrepo.CampaignFilter) ([]entity.Campaign, int, error) {
	where := "TRUE"
	args := []interface{}{}
	argIndex := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	total, err := common.Count(ctx, s.q, "bulk_notifications", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("campaign repository: %w", err)
	}

	query := "SELECT * FROM bulk_notifications WHERE " + where + " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	var campaigns []entity.Campaign
	if err := sqlx.SelectContext(ctx, s.q, &campaigns, query, args...); err != nil {
		return nil, 0, fmt.Errorf("campaign repository: list %w", err)
	}
	return campaigns, total, nil
}
