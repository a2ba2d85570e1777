package entity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

const (
	MaxDisputeDescriptionLength = 5000
	MaxDisputeMessageLength     = 5000
)

type Dispute struct {
	ID             uuid.UUID                   `db:"id" json:"id"`
	BookingID      uuid.UUID                   `db:"booking_id" json:"booking_id"`
	ServiceID      uuid.UUID                   `db:"service_id" json:"service_id"`
	ProviderID     uuid.UUID                   `db:"provider_id" json:"provider_id"`
	CustomerID     uuid.UUID                   `db:"customer_id" json:"customer_id"`
	InitiatedBy    uuid.UUID                   `db:"initiated_by" json:"initiated_by"`
	Type           valueobject.DisputeType     `db:"type" json:"type"`
	Status         valueobject.DisputeStatus   `db:"status" json:"status"`
	Description    string                      `db:"description" json:"description"`
	DesiredOutcome *string                     `db:"desired_outcome" json:"desired_outcome,omitempty"`
	Outcome        *valueobject.DisputeOutcome `db:"outcome" json:"outcome,omitempty"`
	Resolution     *string                     `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy     *uuid.UUID                  `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time                  `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time                   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                   `db:"updated_at" json:"updated_at"`

	Messages []DisputeMessage `db:"-" json:"messages"`
}

// DisputeMessage представляет сообщение в переписке по спору. Сообщения только добавляются.
type DisputeMessage struct {
	ID             uuid.UUID `db:"id" json:"id"`
	DisputeID      uuid.UUID `db:"dispute_id" json:"dispute_id"`
	SenderID       uuid.UUID `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	IsAdminMessage bool      `db:"is_admin_message" json:"is_admin_message"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// OpenDispute создаёт спор и первое сообщение с описанием проблемы.
func OpenDispute(b *Booking, actor Actor, disputeType valueobject.DisputeType, description, desiredOutcome string, now time.Time) (*Dispute, error) {
	if !b.IsParty(actor.ID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "открыть спор может только участник бронирования")
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание спора обязательно")
	}
	if utf8.RuneCountInString(description) > MaxDisputeDescriptionLength {
		return nil, apperror.New(apperror.ErrCodeValidation, "описание спора слишком длинное")
	}

	d := &Dispute{
		ID:          uuid.New(),
		BookingID:   b.ID,
		ServiceID:   b.ServiceID,
		ProviderID:  b.ProviderID,
		CustomerID:  b.CustomerID,
		InitiatedBy: actor.ID,
		Type:        disputeType,
		Status:      valueobject.DisputeStatusOpen,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o := strings.TrimSpace(desiredOutcome); o != "" {
		d.DesiredOutcome = &o
	}

	d.Messages = []DisputeMessage{d.newMessage(actor.ID, description, false, now)}
	return d, nil
}

func (d *Dispute) IsParty(userID uuid.UUID) bool {
	return d.CustomerID == userID || d.ProviderID == userID
}

func (d *Dispute) CanView(actor Actor) bool {
	return actor.IsAdmin() || d.IsParty(actor.ID)
}

// AddMessage добавляет сообщение участника или администратора. Статус не меняется.
func (d *Dispute) AddMessage(actor Actor, content string, now time.Time) (*DisputeMessage, error) {
	if !d.CanView(actor) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "писать в спор могут только участники и администратор")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "сообщение не может быть пустым")
	}
	if utf8.RuneCountInString(content) > MaxDisputeMessageLength {
		return nil, apperror.New(apperror.ErrCodeValidation, "сообщение слишком длинное")
	}

	msg := d.newMessage(actor.ID, content, actor.IsAdmin(), now)
	d.Messages = append(d.Messages, msg)
	d.UpdatedAt = now
	return &d.Messages[len(d.Messages)-1], nil
}

// SetStatus меняет статус спора. При переходе в терминальный статус
// фиксирует, кто и когда закрыл спор, и добавляет служебное сообщение.
func (d *Dispute) SetStatus(actor Actor, status valueobject.DisputeStatus, notes string, now time.Time) (*DisputeMessage, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "менять статус спора может только администратор")
	}
	if !status.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "некорректный статус спора")
	}
	if d.Status == status {
		return nil, apperror.New(apperror.ErrCodeConflict, "спор уже находится в этом статусе")
	}
	if !d.Status.CanTransitionTo(status) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"переход спора из "+string(d.Status)+" в "+string(status)+" недопустим")
	}
	return d.moveTo(actor, status, notes, now), nil
}

func (d *Dispute) moveTo(actor Actor, status valueobject.DisputeStatus, notes string, now time.Time) *DisputeMessage {
	d.Status = status
	d.UpdatedAt = now

	if !status.IsTerminal() {
		return nil
	}

	by := actor.ID
	at := now
	d.ResolvedBy = &by
	d.ResolvedAt = &at

	text := "Статус спора изменён на " + string(status)
	if n := strings.TrimSpace(notes); n != "" {
		text += ": " + n
	}
	msg := d.newMessage(actor.ID, text, true, now)
	d.Messages = append(d.Messages, msg)
	return &d.Messages[len(d.Messages)-1]
}

// Resolve закрывает спор решением из любого незавершённого статуса, без
// обязательного рассмотрения. Денежные последствия исхода выполняет вызывающий код.
func (d *Dispute) Resolve(actor Actor, outcome valueobject.DisputeOutcome, resolution, notes string, now time.Time) (*DisputeMessage, error) {
	if !actor.IsAdmin() {
		return nil, apperror.New(apperror.ErrCodeForbidden, "менять статус спора может только администратор")
	}
	if d.Status.IsTerminal() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition,
			"переход спора из "+string(d.Status)+" в "+string(valueobject.DisputeStatusResolved)+" недопустим")
	}
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "текст решения обязателен")
	}

	msgNotes := resolution
	if n := strings.TrimSpace(notes); n != "" {
		msgNotes += ". " + n
	}

	msg := d.moveTo(actor, valueobject.DisputeStatusResolved, msgNotes, now)
	d.Outcome = &outcome
	d.Resolution = &resolution
	return msg, nil
}

func (d *Dispute) newMessage(senderID uuid.UUID, content string, isAdmin bool, now time.Time) DisputeMessage {
	return DisputeMessage{
		ID:             uuid.New(),
		DisputeID:      d.ID,
		SenderID:       senderID,
		Content:        content,
		IsAdminMessage: isAdmin,
		CreatedAt:      now,
	}
}
