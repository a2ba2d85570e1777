package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
)

// LedgerEntry представляет одно движение денег по бронированию. После записи не изменяется.
type LedgerEntry struct {
	ID          uuid.UUID                `db:"id" json:"id"`
	BookingID   uuid.UUID                `db:"booking_id" json:"booking_id"`
	CustomerID  uuid.UUID                `db:"customer_id" json:"customer_id"`
	ProviderID  uuid.UUID                `db:"provider_id" json:"provider_id"`
	Amount      valueobject.Money        `db:"amount" json:"amount"`
	Kind        valueobject.LedgerKind   `db:"kind" json:"kind"`
	Status      valueobject.LedgerStatus `db:"status" json:"status"`
	Method      *string                  `db:"method" json:"method,omitempty"`
	ProcessedBy uuid.UUID                `db:"processed_by" json:"processed_by"`
	Note        *string                  `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time                `db:"created_at" json:"created_at"`
}
