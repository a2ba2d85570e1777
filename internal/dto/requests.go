package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateBookingRequest represents the request to book a catalog service
type CreateBookingRequest struct {
	ServiceID     uuid.UUID `json:"service_id" binding:"required"`
	ScheduledDate string    `json:"scheduled_date" binding:"required"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Notes         string    `json:"notes"`
}

// UpdateBookingStatusRequest represents a booking status transition
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CancelBookingRequest represents a booking cancellation
type CancelBookingRequest struct {
	Reason string `json:"reason"`
}

// CapturePaymentRequest represents a payment captured into escrow.
// Amount is a decimal string with at most two fraction digits, e.g. "500.00"
type CapturePaymentRequest struct {
	Amount string `json:"amount" binding:"required"`
	Method string `json:"payment_method"`
}

// RefundRequestRequest represents a customer's refund request
type RefundRequestRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ProcessRefundRequest represents an admin decision on a refund
type ProcessRefundRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Reason   string `json:"reason"`
	Override bool   `json:"override"`
}

// CreateDisputeRequest represents the request to open a dispute
type CreateDisputeRequest struct {
	BookingID      uuid.UUID `json:"booking_id" binding:"required"`
	Type           string    `json:"type" binding:"required"`
	Description    string    `json:"description" binding:"required"`
	DesiredOutcome string    `json:"desired_outcome"`
}

// DisputeMessageRequest represents a new message in a dispute thread
type DisputeMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// UpdateDisputeStatusRequest represents an admin status change
type UpdateDisputeStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// ResolveDisputeRequest represents an admin resolution
type ResolveDisputeRequest struct {
	Outcome    string `json:"outcome" binding:"required"`
	Resolution string `json:"resolution" binding:"required"`
	Notes      string `json:"notes"`
}

// RecipientFilterRequest narrows custom recipients by profile attributes
type RecipientFilterRequest struct {
	Roles        []string   `json:"roles"`
	Departments  []string   `json:"departments"`
	JoinedAfter  *time.Time `json:"joined_after"`
	JoinedBefore *time.Time `json:"joined_before"`
}

// CampaignRequest represents the request to create or update a bulk notification
type CampaignRequest struct {
	Title            string                 `json:"title" binding:"required"`
	Content          string                 `json:"content" binding:"required"`
	RecipientType    string                 `json:"recipient_type" binding:"required"`
	CustomRecipients []uuid.UUID            `json:"custom_recipients"`
	CustomFilter     RecipientFilterRequest `json:"custom_filter"`
	NotificationType string                 `json:"notification_type" binding:"required"`
	ScheduledAt      *time.Time             `json:"scheduled_at"`
}
