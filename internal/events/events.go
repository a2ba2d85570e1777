package events

import (
	"time"

	"github.com/google/uuid"
)

// Ключи маршрутизации доменных событий.
const (
	BookingCreated   = "booking.created"
	BookingStatus    = "booking.status_changed"
	BookingCompleted = "booking.completed"
	BookingCancelled = "booking.cancelled"
	PaymentCaptured  = "payment.captured"
	EscrowReleased   = "escrow.released"
	RefundProcessed  = "refund.processed"
	DisputeOpened    = "dispute.opened"
	DisputeResolved  = "dispute.resolved"
	CampaignSent     = "campaign.sent"
)

// BookingEvent представляет общий конверт событий бронирования.
type BookingEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	ServiceID  uuid.UUID `json:"service_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	ProviderID uuid.UUID `json:"provider_id"`
	Status     string    `json:"status"`
	Payment    string    `json:"payment_status"`
	Amount     int64     `json:"amount,omitempty"`
	ActorID    uuid.UUID `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type DisputeEvent struct {
	DisputeID  uuid.UUID `json:"dispute_id"`
	BookingID  uuid.UUID `json:"booking_id"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	ActorID    uuid.UUID `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type CampaignEvent struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	Total      int       `json:"total"`
	OccurredAt time.Time `json:"occurred_at"`
}
