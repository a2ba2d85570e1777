package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
)

type BookingFilter struct {
	PartyID *uuid.UUID
	Status  valueobject.BookingStatus
	Limit   int
	Offset  int
}

type DisputeFilter struct {
	PartyID *uuid.UUID
	Status  valueobject.DisputeStatus
	Limit   int
	Offset  int
}

type CampaignFilter struct {
	Status valueobject.CampaignStatus
	Limit  int
	Offset int
}

// BookingStore записывает бронирования. Lock* берут блокировку строки до конца транзакции.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *entity.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	LockBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	UpdateBooking(ctx context.Context, b *entity.Booking) error
}

// LedgerStore ведёт журнал движений денег, только добавление.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, e *entity.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, bookingID uuid.UUID) ([]entity.LedgerEntry, error)
}

type DisputeStore interface {
	CreateDispute(ctx context.Context, d *entity.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	LockDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	UpdateDispute(ctx context.Context, d *entity.Dispute) error
	AppendDisputeMessage(ctx context.Context, m *entity.DisputeMessage) error
	// FindActiveDispute возвращает nil, nil если активного спора нет.
	FindActiveDispute(ctx context.Context, bookingID uuid.UUID) (*entity.Dispute, error)
}

type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *entity.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error)
	LockCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error)
	UpdateCampaign(ctx context.Context, c *entity.Campaign) error
	CreateDeliveryRecords(ctx context.Context, records []entity.DeliveryRecord) error
}

// Tx объединяет хранилища внутри одной транзакции.
type Tx interface {
	BookingStore
	LedgerStore
	DisputeStore
	CampaignStore
}

// UnitOfWork выполняет fn в одной транзакции: commit при nil, rollback при ошибке или панике.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader читает данные вне транзакции.
type Reader interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*entity.Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]entity.Booking, int, error)
	ListLedgerEntries(ctx context.Context, bookingID uuid.UUID) ([]entity.LedgerEntry, error)
	GetDispute(ctx context.Context, id uuid.UUID) (*entity.Dispute, error)
	ListDisputes(ctx context.Context, filter DisputeFilter) ([]entity.Dispute, int, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*entity.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]entity.Campaign, int, error)
}

// DeliveryStore ведёт учёт доставки после фиксации рассылки.
type DeliveryStore interface {
	ListDeliveryRecords(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]entity.DeliveryRecord, int, error)
	ListPendingDeliveries(ctx context.Context, campaignID uuid.UUID) ([]entity.DeliveryRecord, error)
	ListStaleDeliveries(ctx context.Context, before time.Time, limit int) ([]entity.DeliveryRecord, error)
	ListDueCampaigns(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// CompleteDelivery переводит pending-запись в итоговый статус и увеличивает
	// счётчик рассылки. applied=false, если запись уже не pending.
	CompleteDelivery(ctx context.Context, recordID uuid.UUID, status valueobject.DeliveryStatus, notificationID *uuid.UUID, reason *string) (applied bool, err error)
	MarkDeliveryOpened(ctx context.Context, recordID, recipientID uuid.UUID) (*entity.DeliveryRecord, bool, error)
	// ClaimDelivery начинает попытку доставки. Запись захватывается, только если
	// она pending и предыдущая попытка началась раньше staleBefore, поэтому
	// параллельные проходы не доставляют одному получателю дважды.
	// notificationID возвращает уже созданное in-app уведомление, если оно было.
	ClaimDelivery(ctx context.Context, recordID uuid.UUID, at, staleBefore time.Time) (claimed bool, notificationID *uuid.UUID, err error)
	// AttachNotification привязывает созданное in-app уведомление к записи сразу,
	// до итога попытки.
	AttachNotification(ctx context.Context, recordID, notificationID uuid.UUID) error
}

type CatalogReader interface {
	GetService(ctx context.Context, id uuid.UUID) (*entity.ServiceSnapshot, error)
}

type DirectoryReader interface {
	ListDirectoryUsers(ctx context.Context) ([]entity.DirectoryUser, error)
}
