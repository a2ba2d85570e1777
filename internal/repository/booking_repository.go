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

// CreateBooking сохраняет новое бронирование.
func (s *Store) CreateBooking(ctx context.Context, b *entity.Booking) error {
	query := `
		INSERT INTO bookings (
			id, customer_id, provider_id, service_id, scheduled_date, start_time, end_time,
			status, total_amount, payment_status, payment_method, notes,
			refund_requested, refund_processed, created_at, updated_at
		) VALUES (
			:id, :customer_id, :provider_id, :service_id, :scheduled_date, :start_time, :end_time,
			:status, :total_amount, :payment_status, :payment_method, :notes,
			:refund_requested, :refund_processed, :created_at, :updated_at
		)
	`
	if _, err := sqlx.NamedExecContext(ctx, s.q, query, b); err != nil {
		if common.IsForeignKeyViolation(err) {
			return apperror.Wrap(err, apperror.ErrCodeValidation, "услуга или пользователь не существуют")
		}
		return fmt.Errorf("booking repository: create %w", err)
	}
	return nil
}

// GetBooking возвращает бронирование без блокировки.
func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return common.GetByID[entity.Booking](ctx, s.q, "bookings", id, false, apperror.ErrBookingNotFound)
}

// LockBooking читает бронирование с SELECT ... FOR UPDATE.
// Операции над одним бронированием выполняются строго по очереди,
// над разными выполняются независимо.
func (s *Store) LockBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	return common.GetByID[entity.Booking](ctx, s.q, "bookings", id, true, apperror.ErrBookingNotFound)
}

// UpdateBooking сохраняет изменяемые поля. total_amount не меняется после создания.
func (s *Store) UpdateBooking(ctx context.Context, b *entity.Booking) error {
	query := `
		UPDATE bookings SET
			status = :status,
			payment_status = :payment_status,
			payment_method = :payment_method,
			cancellation_reason = :cancellation_reason,
			cancelled_by = :cancelled_by,
			cancelled_at = :cancelled_at,
			refund_requested = :refund_requested,
			refund_requested_at = :refund_requested_at,
			refund_processed = :refund_processed,
			refund_approved = :refund_approved,
			refund_reason = :refund_reason,
			refund_processed_by = :refund_processed_by,
			refund_processed_at = :refund_processed_at,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := sqlx.NamedExecContext(ctx, s.q, query, b)
	if err != nil {
		return fmt.Errorf("booking repository: update %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("booking repository: update rows affected %w", err)
	}
	if rowsAffected == 0 {
		return apperror.ErrBookingNotFound
	}
	return nil
}

// ListBookings возвращает бронирования с фильтром и общим количеством.
func (s *Store) ListBookings(ctx context.Context, filter domainrepo.BookingFilter) ([]entity.Booking, int, error) {
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

	total, err := common.Count(ctx, s.q, "bookings", where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking repository: %w", err)
	}

	query := "SELECT * FROM bookings WHERE " + where + " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	var bookings []entity.Booking
	if err := sqlx.SelectContext(ctx, s.q, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("booking repository: list %w", err)
	}
	return bookings, total, nil
}
