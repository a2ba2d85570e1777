package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Mailer отправляет письмо пользователю. Адрес получателя знает сервис идентификации.
type Mailer interface {
	Send(ctx context.Context, userID uuid.UUID, subject, body string) error
}

// LogMailer пишет письма в лог. Используется, пока почтовый шлюз не подключён.
type LogMailer struct {
	log *logrus.Logger
}

func NewLogMailer(log *logrus.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, userID uuid.UUID, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"recipient_id": userID,
		"subject":      subject,
		"length":       len(body),
	}).Info("mailer: письмо отправлено")
	return nil
}
