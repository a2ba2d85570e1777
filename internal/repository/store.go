package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	domainrepo "github.com/ignatzorin/settlement-backend/internal/domain/repository"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

// Store реализует хранилища бронирований, журнала, споров и рассылок поверх
// sqlx. Работает как с *sqlx.DB (чтение), так и с *sqlx.Tx (внутри UnitOfWork).
type Store struct {
	q sqlx.ExtContext
}

// NewStore создаёт хранилище для чтения вне транзакции.
func NewStore(db *sqlx.DB) *Store {
	return &Store{q: db}
}

var (
	_ domainrepo.Tx     = (*Store)(nil)
	_ domainrepo.Reader = (*Store)(nil)
)

// UnitOfWork открывает транзакцию и передаёт в fn хранилище, привязанное к ней.
type UnitOfWork struct {
	db *sqlx.DB
}

func NewUnitOfWork(db *sqlx.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domainrepo.Tx) error) error {
	err := common.WithTransaction(ctx, u.db, func(tx *sqlx.Tx) error {
		return fn(ctx, &Store{q: tx})
	})
	if err != nil && ctx.Err() != nil {
		return apperror.FromContext(ctx.Err())
	}
	return err
}
