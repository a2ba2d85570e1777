package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

const (
	uniqSingleCapture = "ledger_single_capture_uniq"
	uniqSinglePayout  = "ledger_single_payout_uniq"
)

// AppendLedgerEntry добавляет запись в журнал. Обновлений и удалений у журнала нет.
func (s *Store) AppendLedgerEntry(ctx context.Context, e *entity.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, booking_id, customer_id, provider_id, amount, kind, status,
			method, processed_by, note, created_at
		) VALUES (
			:id, :booking_id, :customer_id, :provider_id, :amount, :kind, :status,
			:method, :processed_by, :note, :created_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, e); err != nil {
		switch {
		case common.IsUniqueViolation(err, uniqSingleCapture):
			return apperror.Wrap(err, apperror.ErrCodeAlreadyCaptured, apperror.ErrAlreadyCaptured.Message)
		case common.IsUniqueViolation(err, uniqSinglePayout):
			return apperror.Wrap(err, apperror.ErrCodeAlreadyProcessed, "по бронированию уже была выплата или возврат")
		}
		return fmt.Errorf("ledger repository: append %w", err)
	}
	return nil
}

// ListLedgerEntries возвращает записи бронирования в порядке создания.
func (s *Store) ListLedgerEntries(ctx context.Context, bookingID uuid.UUID) ([]entity.LedgerEntry, error) {
	var entries []entity.LedgerEntry
	query := `SELECT * FROM ledger_entries WHERE booking_id = $1 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, s.q, &entries, query, bookingID); err != nil {
		return nil, fmt.Errorf("ledger repository: list %w", err)
	}
	return entries, nil
}
