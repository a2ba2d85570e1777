package common

import (
	"errors"

	"github.com/lib/pq"
)

// Коды ошибок PostgreSQL, которые репозитории переводят в доменные ошибки.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation сообщает, что вставка нарушила уникальный индекс.
// пустой constraint означает любой индекс.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsForeignKeyViolation сообщает, что запись ссылается на отсутствующую строку.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation
}
