package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
	"github.com/ignatzorin/settlement-backend/internal/repository/common"
)

// CatalogRepository читает услуги каталога. Каталогом владеет другой сервис,
// здесь только чтение цены и исполнителя.
type CatalogRepository struct {
	db *sqlx.DB
}

func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetService возвращает услугу по идентификатору.
func (r *CatalogRepository) GetService(ctx context.Context, id uuid.UUID) (*entity.ServiceSnapshot, error) {
	return common.GetByID[entity.ServiceSnapshot](ctx, r.db, "services", id, false, apperror.ErrServiceNotFound)
}
