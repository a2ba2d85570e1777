// Package events публикует доменные события в RabbitMQ после фиксации транзакций.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const DefaultExchange = "marketplace_events"

// Publisher отправляет событие с ключом маршрутизации.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// AMQPPublisher держит соединение и канал RabbitMQ.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *logrus.Logger
}

// NoopPublisher используется, когда RABBITMQ_URL не задан или брокер недоступен при старте.
type NoopPublisher struct {
	log *logrus.Logger
}

func NewNoopPublisher(log *logrus.Logger) *NoopPublisher {
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	if p.log != nil {
		p.log.WithField("routing_key", routingKey).Debug("events: публикация пропущена, брокер не настроен")
	}
	return nil
}

func (p *NoopPublisher) Close() {}

// New подключается к брокеру. При пустом URL или ошибке подключения возвращает NoopPublisher.
func New(amqpURL, exchange string, log *logrus.Logger) Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		return NewNoopPublisher(log)
	}
	p, err := NewAMQPPublisher(amqpURL, exchange, log)
	if err != nil {
		log.WithError(err).Warn("events: RabbitMQ недоступен, события публиковаться не будут")
		return NewNoopPublisher(log)
	}
	return p
}

// NewAMQPPublisher открывает соединение и объявляет topic exchange.
func NewAMQPPublisher(amqpURL, exchange string, log *logrus.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("events: dial %w", err)
	}

	p := &AMQPPublisher{conn: conn, exchange: exchange, log: log}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("events: open channel %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("events: declare exchange %w", err)
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	return nil
}

// Publish сериализует body в JSON. При ошибке канал переоткрывается и публикация повторяется один раз.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("events: marshal %s %w", routingKey, err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.log.WithError(err).WithField("routing_key", routingKey).Warn("events: публикация не удалась, переоткрываем канал")
	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("events: parse url %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("events: схема должна быть amqp:// или amqps://")
	}
	return clean, nil
}
