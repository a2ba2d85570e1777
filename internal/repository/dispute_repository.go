package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	domainrepo "github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

// uniqActiveDispute допускает один незавершённый спор на бронирование.
const uniqActiveDispute = "disputes_active_booking_uniq"

const disputeMessageColumns = `id, dispute_id, sender_id, content, is_admin_message, created_at`

// CreateDispute сохраняет спор вместе с первым сообщением.
func (s *Store) CreateDispute(ctx context.Context, d *entity.Dispute) error {
	query := `
		INSERT INTO disputes (
			id, booking_id, service_id, provider_id, customer_id, initiated_by, type, status,
			description, desired_outcome, created_at, updated_at
		) VALUES (
			:id, :booking_id, :service_id, :provider_id, :customer_id, :initiated_by, :type, :status,
			:description, :desired_outcome, :created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, d); err != nil {
		if common.IsUniqueViolation(err, uniqActiveDispute) {
			return apperror.Wrap(err, apperror.ErrCodeConflict, apperror.ErrActiveDispute.Message)
		}
		return fmt.Errorf("dispute repository: create %w", err)
	}

	for i := range d.Messages {
		if err := s.AppendDisputeMessage(ctx, &d.Messages[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetDispute возвращает спор с перепиской.
func (s *Store) GetDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return s.loadDispute(ctx, id, false)
}

// LockDispute блокирует строку спора до конца транзакции.
func (s *Store) LockDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error) {
	return s.loadDispute(ctx, id, true)
}

func (s *Store) loadDispute(ctx context.Context, id uuid.UUID, forUpdate bool) (*entity.Dispute, error) {
	d, err := common.GetByID[entity.Dispute](ctx, s.q, "disputes", id, forUpdate, apperror.ErrDisputeNotFound)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + disputeMessageColumns + ` FROM dispute_messages WHERE dispute_id = $1 ORDER BY created_at, seq`
	if err := sqlx.SelectContext(ctx, s.q, &d.Messages, query, id); err != nil {
		return nil, fmt.Errorf("dispute repository: list messages %w", err)
	}
	return d, nil
}

// UpdateDispute сохраняет статус и решение. Переписка пишется отдельно.
func (s *Store) UpdateDispute(ctx context.Context, d *entity.Dispute) error {
	query := `
		UPDATE disputes SET
			status = :status,
			outcome = :outcome,
			resolution = :resolution,
			resolved_by = :resolved_by,
			resolved_at = :resolved_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := sqlx.NamedExecContext(ctx, s.q, query, d)
	if err != nil {
		return fmt.Errorf("dispute repository: update %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("dispute repository: update rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.ErrDisputeNotFound
	}
	return nil
}

// AppendDisputeMessage добавляет сообщение в переписку.
func (s *Store) AppendDisputeMessage(ctx context.Context, m *entity.DisputeMessage) error {
	query := `
		INSERT INTO dispute_messages (` + disputeMessageColumns + `)
		VALUES (:id, :dispute_id, :sender_id, :content, :is_admin_message, :created_at)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, m); err != nil {
		return fmt.Errorf("dispute repository: append message %w", err)
	}
	return nil
}

// FindActiveDispute ищет незавершённый спор по бронированию.
func (s *Store) FindActiveDispute(ctx context.Context, bookingID uuid.UUID) (*entity.Dispute, error) {
	var d entity.Dispute
	query := `
		SELECT * FROM disputes
		WHERE booking_id = $1 AND status IN ('open', 'under_review', 'mediation')
		LIMIT 1
	`
	if err := sqlx.GetContext(ctx, s.q, &d, query, bookingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispute repository: find active %w", err)
	}
	return &d, nil
}

// ListDisputes возвращает споры без переписки.
func (s *Store) ListDisputes(ctx context.Context, filter domainrepo.DisputeFilter) ([]entity.Dispute, int, error) {
	where := "TRUE"
	args := []interface{}{}
	argIndex := 1

	if filter.PartyID != nil {
		where += fmt.Sprintf(" AND (customer_id = $%d OR provider_id = $%d)", argIndex, argIndex)
		args = append(args, *filter.PartyID)
		argIndex++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	total, err := common.Count(ctx, s.q, "disputes", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("dispute repository: %w", err)
	}

	query := "SELECT * FROM disputes WHERE " + where + " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	var disputes []entity.Dispute
	if err := sqlx.SelectContext(ctx, s.q, &disputes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("dispute repository: list %w", err)
	}
	return disputes, total, nil
}
