package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
)

// DirectoryRepository читает справочник пользователей для отбора получателей рассылок.
type DirectoryRepository struct {
	db *sqlx.DB
}

func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// ListDirectoryUsers возвращает всех пользователей с полями, нужными для фильтра.
func (r *DirectoryRepository) ListDirectoryUsers(ctx context.Context) ([]entity.DirectoryUser, error) {
	var users []entity.DirectoryUser
	query := `SELECT id, role, department, is_active, last_login_at, created_at FROM users ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("directory repository: list users %w", err)
	}
	return users, nil
}
