package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Hub управляет всеми WebSocket клиентами.
type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	online     chan onlineQuery
	log        *logrus.Logger
	ctx        context.Context
}

type message struct {
	userID  uuid.UUID
	payload []byte
}

type onlineQuery struct {
	userID uuid.UUID
	reply  chan int
}

// NewHub создаёт новый хаб. Хаб работает, пока не отменён ctx.
func NewHub(ctx context.Context, log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 256),
		online:     make(chan onlineQuery),
		log:        log,
		ctx:        ctx,
	}
}

// Run запускает главный цикл хаба. Состояние клиентов меняется только здесь.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg.userID, msg.payload)
		case q := <-h.online:
			q.reply <- len(h.clients[q.userID])
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// BroadcastToUser отправляет событие всем соединениям пользователя.
// Формат сообщения: {"type": event, "data": data}.
func (h *Hub) BroadcastToUser(userID uuid.UUID, event string, data any) error {
	raw, err := json.Marshal(map[string]any{
		"type": event,
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	select {
	case h.broadcast <- message{userID: userID, payload: raw}:
		return nil
	case <-h.ctx.Done():
		return h.ctx.Err()
	default:
		return fmt.Errorf("ws: очередь отправки переполнена")
	}
}

// Online возвращает число открытых соединений пользователя.
func (h *Hub) Online(userID uuid.UUID) int {
	q := onlineQuery{userID: userID, reply: make(chan int, 1)}
	select {
	case h.online <- q:
		return <-q.reply
	case <-h.ctx.Done():
		return 0
	}
}

func (h *Hub) addClient(client *Client) {
	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) send(userID uuid.UUID, payload []byte) {
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
			// Медленный клиент: отключаем, чтобы не блокировать остальных.
			h.log.WithField("recipient_id", userID).Warn("ws: буфер клиента переполнен, соединение закрыто")
			h.removeClient(client)
		}
	}
}

func (h *Hub) closeAll() {
	for _, clients := range h.clients {
		for client := range clients {
			h.removeClient(client)
		}
	}
}
