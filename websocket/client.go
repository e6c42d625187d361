package websocket

import (
	"bytes"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/egor/helpchatserver/models"
)

const (
	writeWait      = 10 * time.Second    // время на запись одного сообщения
	pongWait       = 60 * time.Second    // максимальное время ожидания PONG
	pingPeriod     = (pongWait * 9) / 10 // как часто слать PING
	maxMessageSize = 4096                // максимальный размер входящего кадра
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client представляет одно WebSocket-соединение (админ или гость).
// Идентичность связывается событием auth; до него соединение
// считается неаутентифицированным и привилегированные события
// отклоняются.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte // исходящие кадры

	mu            sync.RWMutex
	authenticated bool
	userID        string
	role          string
	guestID       string // для роли visitor - его guestId
	subscribed    string // для админа - наблюдаемая беседа (не более одной)
}

// NewClient создает нового WebSocket клиента
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// SetIdentity привязывает соединение к актеру. Повторный auth намеренно
// идемпотентен: идентичность просто перезаписывается, это нужно для
// reconnect-and-reauthenticate на клиенте.
func (c *Client) SetIdentity(userID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.userID = userID
	c.role = role
	if role == "visitor" {
		c.guestID = userID
	} else {
		c.guestID = ""
	}
}

// Identity возвращает актера соединения; ok == false до auth.
func (c *Client) Identity() (userID, role string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.role, c.authenticated
}

// GuestID возвращает guestId гостевого соединения ("" для админов)
func (c *Client) GuestID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guestID
}

// IsAdmin сообщает, аутентифицировано ли соединение админ-классом роли.
// Набор ролей закрыт: неизвестная роль не получает привилегий ни здесь,
// ни в HTTP-обработчиках.
func (c *Client) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated && models.IsAdminRole(c.role)
}

// Subscribed возвращает беседу, на которую подписано соединение
func (c *Client) Subscribed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}

func (c *Client) setSubscribed(guestID string) {
	c.mu.Lock()
	c.subscribed = guestID
	c.mu.Unlock()
}

// Send кладет кадр в исходящую очередь соединения
func (c *Client) Send(data []byte) {
	c.send <- data
}

// SendError отправляет типизированное событие ошибки { code, context }
func (c *Client) SendError(code, context string) {
	data, err := NewErrorEvent(code, context)
	if err != nil {
		log.Printf("SendError: ошибка маршализации: %v", err)
		return
	}
	c.send <- data
}

// ReadPump читает кадры из WebSocket, парсит их и вызывает handler.
func (c *Client) ReadPump(messageHandler func(client *Client, raw []byte)) {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ReadPump: неожиданное закрытие соединения: %v", err)
			}
			break
		}

		// Очищаем переносы строк
		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))
		if len(raw) == 0 {
			continue
		}

		if messageHandler != nil {
			messageHandler(c, raw)
		}
	}
}

// WritePump пишет из канала send в WebSocket и держит соединение живым
// ping/pong'ом.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// канал закрыт Hub'ом
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// один JSON-объект на кадр: накопленные кадры не склеиваем,
			// иначе получатель не разберет { "type": ... } из кадра
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
