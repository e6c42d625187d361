package client

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	websocketpkg "github.com/egor/helpchatserver/websocket"
)

// DefaultReconnectDelay - фиксированная пауза перед переподключением.
// Задержка намеренно безусловная, без экспоненциального роста: клиентов
// у одной инсталляции мало, и предсказуемые 3 секунды важнее защиты
// сервера от толпы reconnect'ов.
const DefaultReconnectDelay = 3 * time.Second

// Identity - актер соединения { userId, role }
type Identity struct {
	UserID string
	Role   string
}

// Config - параметры клиента
type Config struct {
	// URL сокета, например ws://host/ws
	URL string

	// FallbackURL - HTTP-фолбэк для отправки сообщений при недоступном
	// сокете, например http://host/api/help-chat/send
	FallbackURL string

	// ReconnectDelay - пауза перед переподключением,
	// DefaultReconnectDelay если 0
	ReconnectDelay time.Duration

	// HTTPClient для фолбэка, http.DefaultClient если nil
	HTTPClient *http.Client
}

// Client - менеджер WebSocket-соединения протокола help-чата.
// Соединение живет, пока не вызван Close: любой разрыв приводит к
// переподключению через фиксированную паузу и повторному auth.
type Client struct {
	cfg     Config
	reducer *Reducer

	mu           sync.Mutex
	identity     *Identity
	wantConnect  bool
	closed       bool
	conn         *websocket.Conn
	reconnecting bool

	writeMu sync.Mutex
}

// New создает клиента с заданной конфигурацией
func New(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		cfg:     cfg,
		reducer: NewReducer(),
	}
}

// State возвращает снимок состояния интерфейса
func (c *Client) State() State {
	return c.reducer.State()
}

// SetIdentity задает актера соединения. Если Connect уже был вызван до
// установки идентичности, подключение стартует отсюда.
func (c *Client) SetIdentity(userID, role string) {
	c.mu.Lock()
	c.identity = &Identity{UserID: userID, Role: role}
	start := c.wantConnect && c.conn == nil && !c.reconnecting && !c.closed
	c.mu.Unlock()

	if start {
		go c.dial()
	}
}

// Connect включает поддержание соединения. До установки идентичности
// подключение откладывается; повторный вызов - no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.wantConnect {
		c.mu.Unlock()
		return
	}
	c.wantConnect = true
	start := c.identity != nil
	c.mu.Unlock()

	if start {
		go c.dial()
	}
}

// Close навсегда останавливает клиента и рвет соединение
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.wantConnect = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// dial подключается к серверу и отправляет auth. Неудача подключения
// обрабатывается так же, как разрыв: следующая попытка через паузу.
func (c *Client) dial() {
	c.mu.Lock()
	if c.closed || !c.wantConnect || c.conn != nil {
		c.mu.Unlock()
		return
	}
	identity := *c.identity
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		log.Printf("dial: не удалось подключиться к %s: %v", c.cfg.URL, err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.reducer.setStatus(StatusConnected)

	// auth сразу после открытия, в том числе после reconnect
	frame, err := websocketpkg.NewAuthRequest(identity.UserID, identity.Role)
	if err == nil {
		err = c.write(conn, frame)
	}
	if err != nil {
		log.Printf("dial: ошибка отправки auth: %v", err)
		c.dropConn(conn)
		c.scheduleReconnect()
		return
	}

	go c.readLoop(conn)
}

// readLoop читает кадры и применяет их к редьюсеру до разрыва
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.reducer.Apply(raw)
	}

	c.dropConn(conn)
	c.scheduleReconnect()
}

// dropConn закрывает и забывает соединение, если оно еще текущее
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()

	c.reducer.setStatus(StatusDisconnected)
}

// scheduleReconnect взводит таймер переподключения. Таймер всегда не
// более одного: гонка разрыва чтения и ошибки записи не должна
// порождать два цикла reconnect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || !c.wantConnect || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
		c.dial()
	})
}

// write отправляет кадр, сериализуя конкурентные записи
func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// currentConn возвращает текущее соединение или nil
func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SendMessage отправляет сообщение в беседу. При живом сокете кадр
// уходит по нему; иначе сообщение доставляется через HTTP-фолбэк,
// чтобы гость не терял написанное во время паузы reconnect.
func (c *Client) SendMessage(guestID, message string) error {
	if conn := c.currentConn(); conn != nil {
		frame, err := websocketpkg.NewSendMessageRequest(guestID, message)
		if err != nil {
			return err
		}
		if err := c.write(conn, frame); err == nil {
			return nil
		}
		// запись не удалась: соединение умрет в readLoop, а сообщение
		// уходит фолбэком
	}
	return c.sendFallback(guestID, message)
}

// sendFallback доставляет сообщение через POST /api/help-chat/send
func (c *Client) sendFallback(guestID, message string) error {
	if c.cfg.FallbackURL == "" {
		return errors.New("сокет недоступен и фолбэк не настроен")
	}

	body := fmt.Sprintf(`{"guestId":%q,"message":%q}`, guestID, message)
	resp, err := c.cfg.HTTPClient.Post(c.cfg.FallbackURL, "application/json", bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("HTTP-фолбэк: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP-фолбэк: статус %d", resp.StatusCode)
	}
	return nil
}

// JoinConversation входит в беседу как админ. selectedAgentID == nil -
// автоматический режим назначения.
func (c *Client) JoinConversation(guestID string, selectedAgentID *string) error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("соединение не установлено")
	}

	frame, err := websocketpkg.NewJoinConversationRequest(guestID, selectedAgentID)
	if err != nil {
		return err
	}

	c.reducer.BeginJoin(guestID)
	return c.write(conn, frame)
}

// LeaveConversation выходит из беседы
func (c *Client) LeaveConversation(guestID string) error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("соединение не установлено")
	}

	frame, err := websocketpkg.NewLeaveConversationRequest(guestID)
	if err != nil {
		return err
	}

	c.reducer.LeaveLocal(guestID)
	return c.write(conn, frame)
}

// AckListRefetched сообщает, что список бесед перечитан
func (c *Client) AckListRefetched() { c.reducer.AckListRefetched() }

// AckTranscriptRefetched сообщает, что транскрипт беседы перечитан
func (c *Client) AckTranscriptRefetched(guestID string) { c.reducer.AckTranscriptRefetched(guestID) }
