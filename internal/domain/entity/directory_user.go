package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
)

// DirectoryUser представляет проекцию пользователя, нужную для отбора получателей рассылки.
type DirectoryUser struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	Role        valueobject.Role `db:"role" json:"role"`
	Department  *string          `db:"department" json:"department,omitempty"`
	IsActive    bool             `db:"is_active" json:"is_active"`
	LastLoginAt *time.Time       `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
