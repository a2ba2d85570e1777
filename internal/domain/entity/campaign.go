package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

const (
	MaxCampaignTitleLength   = 200
	MaxCampaignContentLength = 10000
)

// RecipientFilter задаёт условия отбора для recipient_type=custom без явного списка.
type RecipientFilter struct {
	Roles        []valueobject.Role `json:"roles,omitempty"`
	Departments  []string           `json:"departments,omitempty"`
	JoinedAfter  *time.Time         `json:"joined_after,omitempty"`
	JoinedBefore *time.Time         `json:"joined_before,omitempty"`
}

func (f RecipientFilter) IsEmpty() bool {
	return len(f.Roles) == 0 && len(f.Departments) == 0 && f.JoinedAfter == nil && f.JoinedBefore == nil
}

// Value сохраняет фильтр в jsonb.
func (f RecipientFilter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan читает фильтр из jsonb.
func (f *RecipientFilter) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = RecipientFilter{}
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("recipient filter: unsupported type %T", src)
	}
}

// DeliveryStats хранит агрегаты доставки рассылки.
type DeliveryStats struct {
	Total     int `db:"total" json:"total"`
	Delivered int `db:"delivered" json:"delivered"`
	Failed    int `db:"failed" json:"failed"`
	Opened    int `db:"opened" json:"opened"`
}

// Campaign представляет массовую рассылку, созданную администратором.
type Campaign struct {
	ID               uuid.UUID                       `db:"id" json:"id"`
	Title            string                          `db:"title" json:"title"`
	Content          string                          `db:"content" json:"content"`
	RecipientType    valueobject.RecipientType       `db:"recipient_type" json:"recipient_type"`
	CustomRecipients pq.StringArray                  `db:"custom_recipients" json:"custom_recipients,omitempty"`
	CustomFilter     RecipientFilter                 `db:"custom_filter" json:"custom_filter"`
	NotificationType valueobject.NotificationChannel `db:"notification_type" json:"notification_type"`
	Status           valueobject.CampaignStatus      `db:"status" json:"status"`
	ScheduledAt      *time.Time                      `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt           *time.Time                      `db:"sent_at" json:"sent_at,omitempty"`
	CreatedBy        uuid.UUID                       `db:"created_by" json:"created_by"`
	DeliveryStats    `json:"delivery_stats"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// CampaignDraft содержит поля рассылки, которые задаёт администратор.
type CampaignDraft struct {
	Title            string
	Content          string
	RecipientType    valueobject.RecipientType
	CustomRecipients []uuid.UUID
	CustomFilter     RecipientFilter
	NotificationType valueobject.NotificationChannel
	ScheduledAt      *time.Time
}

func NewCampaign(actor Actor, draft CampaignDraft, now time.Time) (*Campaign, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "рассылки доступны только администратору")
	}
	c := &Campaign{
		ID:        uuid.New(),
		CreatedBy: actor.ID,
		CreatedAt: now,
	}
	if err := c.apply(draft, now); err != nil {
		return nil, err
	}
	return c, nil
}

// Update заменяет содержимое и расписание неотправленной рассылки.
func (c *Campaign) Update(actor Actor, draft CampaignDraft, now time.Time) error {
	if !actor.IsAdmin() {
		return apperror.New(apperror.ErrCodeForbidden, "рассылки доступны только администратору")
	}
	if err := c.ensureEditable(); err != nil {
		return err
	}
	return c.apply(draft, now)
}

// Cancel отменяет черновик или запланированную рассылку.
func (c *Campaign) Cancel(actor Actor, now time.Time) error {
	if !actor.IsAdmin() {
		return apperror.New(apperror.ErrCodeForbidden, "рассылки доступны только администратору")
	}
	if err := c.ensureEditable(); err != nil {
		return err
	}
	c.Status = valueobject.CampaignStatusCancelled
	c.UpdatedAt = now
	return nil
}

// MarkSent переводит рассылку в терминальный статус sent.
func (c *Campaign) MarkSent(total int, now time.Time) error {
	if err := c.ensureEditable(); err != nil {
		return err
	}
	at := now
	c.Status = valueobject.CampaignStatusSent
	c.SentAt = &at
	c.DeliveryStats = DeliveryStats{Total: total}
	c.UpdatedAt = now
	return nil
}

// IsDue сообщает, что время запланированной рассылки наступило.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == valueobject.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}

// CustomRecipientIDs возвращает явный список получателей.
func (c *Campaign) CustomRecipientIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(c.CustomRecipients))
	for _, raw := range c.CustomRecipients {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный идентификатор получателя")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Campaign) ensureEditable() error {
	switch c.Status {
	case valueobject.CampaignStatusDraft, valueobject.CampaignStatusScheduled:
		return nil
	case valueobject.CampaignStatusSent:
		return apperror.ErrCampaignSent
	case valueobject.CampaignStatusCancelled:
		return apperror.New(apperror.ErrCodeInvalidTransition, "рассылка отменена")
	default:
		return apperror.New(apperror.ErrCodeIntegrity, "неизвестный статус рассылки "+string(c.Status))
	}
}

func (c *Campaign) apply(d CampaignDraft, now time.Time) error {
	title := strings.TrimSpace(d.Title)
	content := strings.TrimSpace(d.Content)
	if title == "" || len([]rune(title)) > MaxCampaignTitleLength {
		return apperror.New(apperror.ErrCodeValidation, "заголовок обязателен и не длиннее 200 символов")
	}
	if content == "" || len([]rune(content)) > MaxCampaignContentLength {
		return apperror.New(apperror.ErrCodeValidation, "текст рассылки обязателен и не длиннее 10000 символов")
	}
	if d.RecipientType == valueobject.RecipientTypeCustom && len(d.CustomRecipients) == 0 && d.CustomFilter.IsEmpty() {
		return apperror.New(apperror.ErrCodeValidation, "для custom укажите список получателей или фильтр")
	}
	for _, r := range d.CustomFilter.Roles {
		if !r.IsValid() {
			return apperror.New(apperror.ErrCodeValidation, "некорректная роль в фильтре")
		}
	}

	status := valueobject.CampaignStatusDraft
	if d.ScheduledAt != nil {
		if !d.ScheduledAt.After(now) {
			return apperror.New(apperror.ErrCodeValidation, "время отправки должно быть в будущем")
		}
		status = valueobject.CampaignStatusScheduled
	}

	recipients := make(pq.StringArray, 0, len(d.CustomRecipients))
	for _, id := range d.CustomRecipients {
		recipients = append(recipients, id.String())
	}

	c.Title = title
	c.Content = content
	c.RecipientType = d.RecipientType
	c.CustomRecipients = recipients
	c.CustomFilter = d.CustomFilter
	c.NotificationType = d.NotificationType
	c.ScheduledAt = d.ScheduledAt
	c.Status = status
	c.UpdatedAt = now
	return nil
}

// DeliveryRecord представляет попытку доставки рассылки одному получателю.
type DeliveryRecord struct {
	ID             uuid.UUID                  `db:"id" json:"id"`
	CampaignID     uuid.UUID                  `db:"campaign_id" json:"campaign_id"`
	RecipientID    uuid.UUID                  `db:"recipient_id" json:"recipient_id"`
	Status         valueobject.DeliveryStatus `db:"status" json:"status"`
	NotificationID *uuid.UUID                 `db:"notification_id" json:"notification_id,omitempty"`
	FailureReason  *string                    `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempts       int                        `db:"attempts" json:"attempts"`
	LastAttemptAt  *time.Time                 `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                  `db:"updated_at" json:"updated_at"`
}
