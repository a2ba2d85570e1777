package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/settlement-backend/internal/models"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Pusher доставляет событие в открытые WebSocket-соединения пользователя.
type Pusher interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// Notifier используется сервисами бронирований, споров и рассылок.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) (*models.Notification, error)
}

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo   NotificationRepository
	pusher Pusher
	log    *logrus.Logger
}

// NewNotificationService создаёт новый сервис уведомлений. pusher может быть nil.
func NewNotificationService(repo NotificationRepository, pusher Pusher, log *logrus.Logger) *NotificationService {
	return &NotificationService{repo: repo, pusher: pusher, log: log}
}

// Notify сохраняет уведомление и отправляет его по WebSocket.
// Ошибка отправки в сокет не считается ошибкой доставки: уведомление уже в БД.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) (*models.Notification, error) {
	payload := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal payload %w", err)
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payloadBytes,
		IsRead:  false,
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, err
	}

	if s.pusher != nil {
		if err := s.pusher.BroadcastToUser(userID, event, data); err != nil && s.log != nil {
			s.log.WithError(err).WithField("recipient_id", userID).Warn("notification service: push не удался")
		}
	}

	return notification, nil
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление как прочитанное. Чужое уведомление не находится.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id, userID)
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
