package valueobject

import "github.com/ignatzorin/settlement-backend/internal/pkg/apperror"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

// bookingTransitions перечисляет допустимые рёбра. in_progress → cancelled разрешён только администратору,
// это проверяется в сущности.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled},
	BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusCompleted:  {},
	BookingStatusCancelled:  {},
}

func (s BookingStatus) CanTransitionTo(newStatus BookingStatus) bool {
	for _, status := range bookingTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewBookingStatus(status string) (BookingStatus, error) {
	s := BookingStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус бронирования")
	}
	return s, nil
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusInEscrow PaymentStatus = "in_escrow"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusInEscrow, PaymentStatusReleased, PaymentStatusRefunded:
		return true
	}
	return false
}

// HasCapturedFunds сообщает, были ли средства клиента получены платформой.
func (s PaymentStatus) HasCapturedFunds() bool {
	return s == PaymentStatusInEscrow || s == PaymentStatusReleased
}

type LedgerKind string

const (
	LedgerKindCapture LedgerKind = "capture"
	LedgerKindRelease LedgerKind = "payment_release"
	LedgerKindRefund  LedgerKind = "refund"
)

func (k LedgerKind) IsValid() bool {
	switch k {
	case LedgerKindCapture, LedgerKindRelease, LedgerKindRefund:
		return true
	}
	return false
}

type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "pending"
	LedgerStatusCompleted LedgerStatus = "completed"
	LedgerStatusFailed    LedgerStatus = "failed"
)

type DisputeType string

const (
	DisputeTypeServiceQuality DisputeType = "service_quality"
	DisputeTypePayment        DisputeType = "payment"
	DisputeTypeCancellation   DisputeType = "cancellation"
	DisputeTypeCommunication  DisputeType = "communication"
	DisputeTypeOther          DisputeType = "other"
)

func NewDisputeType(v string) (DisputeType, error) {
	t := DisputeType(v)
	switch t {
	case DisputeTypeServiceQuality, DisputeTypePayment, DisputeTypeCancellation, DisputeTypeCommunication, DisputeTypeOther:
		return t, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный тип спора")
}

type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusMediation   DisputeStatus = "mediation"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusClosed      DisputeStatus = "closed"
)

func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusUnderReview, DisputeStatusMediation, DisputeStatusResolved, DisputeStatusClosed:
		return true
	}
	return false
}

func (s DisputeStatus) IsTerminal() bool {
	return s == DisputeStatusResolved || s == DisputeStatusClosed
}

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:        {DisputeStatusUnderReview, DisputeStatusClosed},
	DisputeStatusUnderReview: {DisputeStatusMediation, DisputeStatusResolved, DisputeStatusClosed},
	DisputeStatusMediation:   {DisputeStatusUnderReview, DisputeStatusResolved, DisputeStatusClosed},
	DisputeStatusResolved:    {},
	DisputeStatusClosed:      {},
}

func (s DisputeStatus) CanTransitionTo(newStatus DisputeStatus) bool {
	for _, status := range disputeTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

func NewDisputeStatus(status string) (DisputeStatus, error) {
	s := DisputeStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус спора")
	}
	return s, nil
}

// DisputeOutcome задаёт машиночитаемую часть решения по спору.
type DisputeOutcome string

const (
	DisputeOutcomeRefundCustomer    DisputeOutcome = "refund_customer"
	DisputeOutcomeReleaseToProvider DisputeOutcome = "release_to_provider"
	DisputeOutcomeNoAction          DisputeOutcome = "no_action"
)

func NewDisputeOutcome(v string) (DisputeOutcome, error) {
	o := DisputeOutcome(v)
	switch o {
	case DisputeOutcomeRefundCustomer, DisputeOutcomeReleaseToProvider, DisputeOutcomeNoAction:
		return o, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный исход спора")
}

type RecipientType string

const (
	RecipientTypeAll       RecipientType = "all"
	RecipientTypeProviders RecipientType = "providers"
	RecipientTypeCustomers RecipientType = "customers"
	RecipientTypeInactive  RecipientType = "inactive"
	RecipientTypeCustom    RecipientType = "custom"
)

func NewRecipientType(v string) (RecipientType, error) {
	t := RecipientType(v)
	switch t {
	case RecipientTypeAll, RecipientTypeProviders, RecipientTypeCustomers, RecipientTypeInactive, RecipientTypeCustom:
		return t, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный тип получателей")
}

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in-app"
	ChannelBoth  NotificationChannel = "both"
)

func NewNotificationChannel(v string) (NotificationChannel, error) {
	c := NotificationChannel(v)
	switch c {
	case ChannelEmail, ChannelInApp, ChannelBoth:
		return c, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный тип уведомления")
}

func (c NotificationChannel) IncludesInApp() bool {
	return c == ChannelInApp || c == ChannelBoth
}

func (c NotificationChannel) IncludesEmail() bool {
	return c == ChannelEmail || c == ChannelBoth
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusOpened    DeliveryStatus = "opened"
)
