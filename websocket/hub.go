package websocket

import (
	"log"
	"sync"
)

// Hub владеет множеством WebSocket соединений и выполняет fan-out
// событий. Hub держит только слабые ссылки на соединения: жизненным
// циклом сокета управляют пампы клиента, Hub лишь маршрутизирует.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// Регистрация клиента
	Register chan *Client

	// Отмена регистрации клиента
	Unregister chan *Client
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run запускает цикл регистрации Hub'а
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			incConnections()
			log.Printf("Hub: клиент подключился, всего соединений: %d", total)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				decConnections()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Hub: клиент отключился, всего соединений: %d", total)
		}
	}
}

// Subscribe подписывает админ-соединение на беседу. Подписка - не
// более одной беседы на соединение: выбор новой беседы неявно снимает
// предыдущую подписку. Это ограничивает стоимость fan-out и повторяет
// дизайн интерфейса с одной открытой беседой.
func (h *Hub) Subscribe(c *Client, guestID string) {
	c.setSubscribed(guestID)
	setSubscriptions(h.countSubscriptions())
}

// Unsubscribe снимает подписку соединения
func (h *Hub) Unsubscribe(c *Client) {
	c.setSubscribed("")
	setSubscriptions(h.countSubscriptions())
}

func (h *Hub) countSubscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		if client.Subscribed() != "" {
			n++
		}
	}
	return n
}

// SendToConversation доставляет кадр всем админ-соединениям,
// подписанным на беседу, и соединению самого гостя, если он подключен.
func (h *Hub) SendToConversation(guestID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.IsAdmin() && client.Subscribed() == guestID {
			if h.push(client, data) {
				delivered++
			}
			continue
		}
		if client.GuestID() == guestID {
			if h.push(client, data) {
				delivered++
			}
		}
	}
	addDelivered(delivered)
}

// BroadcastToAdmins доставляет кадр всем аутентифицированным
// админ-соединениям независимо от подписки (события присутствия и
// снятия назначения обновляют и неподписанные списки бесед).
func (h *Hub) BroadcastToAdmins(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.IsAdmin() {
			if h.push(client, data) {
				delivered++
			}
		}
	}
	addDelivered(delivered)
}

// push кладет кадр в очередь клиента, не блокируясь: медленный
// потребитель теряет кадр, а не тормозит рассылку остальным.
func (h *Hub) push(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("Hub: очередь клиента переполнена, кадр отброшен")
		return false
	}
}
