package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egor/helpchatserver/chat"
	"github.com/egor/helpchatserver/models"
	websocketpkg "github.com/egor/helpchatserver/websocket"
)

// memStore - хранилище в памяти для интеграционных тестов сокета.
type memStore struct {
	mu       sync.Mutex
	messages map[string][]*models.Message
	active   map[string]bool
	assigned map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string][]*models.Message),
		active:   make(map[string]bool),
		assigned: make(map[string]string),
	}
}

func (s *memStore) AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &models.Message{
		ID:            uuid.New(),
		GuestID:       guestID,
		Content:       content,
		Sender:        sender,
		AgentID:       agentID,
		Timestamp:     time.Now(),
		IsAutoMessage: isAuto,
	}
	s.messages[guestID] = append(s.messages[guestID], msg)
	return msg, nil
}

func (s *memStore) SetGuestActive(ctx context.Context, guestID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[guestID] = active
	return nil
}

func (s *memStore) AssignAgent(ctx context.Context, guestID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned[guestID] = agentID
	return nil
}

func (s *memStore) AssignedAgent(ctx context.Context, guestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned[guestID], nil
}

func (s *memStore) ClearAssignedAgent(ctx context.Context, guestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.assigned[guestID]
	delete(s.assigned, guestID)
	return prev, nil
}

// memDirectory - каталог агентов в памяти.
type memDirectory struct {
	agents []models.SupportAgent
}

func (d *memDirectory) Agent(ctx context.Context, id string) (*models.SupportAgent, error) {
	for i := range d.agents {
		if d.agents[i].ID == id {
			return &d.agents[i], nil
		}
	}
	return nil, nil
}

func (d *memDirectory) ActiveAgents(ctx context.Context) ([]models.SupportAgent, error) {
	return d.agents, nil
}

func newWsTestServer(t *testing.T, store chat.Store, directory chat.AgentDirectory) *httptest.Server {
	gin.SetMode(gin.TestMode)

	hub := websocketpkg.NewHub()
	go hub.Run()

	registry := chat.NewRegistry(store, hub)
	coordinator := chat.NewCoordinator(registry, store, directory, hub)
	InitWebSocket(hub, registry, coordinator)

	r := gin.New()
	r.GET("/ws", ServeWs)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialWs(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

// readUntil читает кадры, пока не встретит нужный тип
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame["type"] == eventType {
			return frame
		}
	}
	t.Fatalf("событие %s не получено", eventType)
	return nil
}

func TestPrivilegedEventBeforeAuth(t *testing.T) {
	srv := newWsTestServer(t, newMemStore(), &memDirectory{})
	conn := dialWs(t, srv)

	sendFrame(t, conn, `{"type":"help_chat_send_message","guestId":"guest-1","message":"привет"}`)
	frame := readFrame(t, conn)

	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "not_authenticated", frame["code"])
}

func TestUnknownEventType(t *testing.T) {
	srv := newWsTestServer(t, newMemStore(), &memDirectory{})
	conn := dialWs(t, srv)

	sendFrame(t, conn, `{"type":"auth","userId":"guest-1","role":"visitor"}`)
	readUntil(t, conn, "auth_success")

	sendFrame(t, conn, `{"type":"что_то_новое"}`)
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "unknown_type", frame["code"])
}

// Полный путь сообщения: гость пишет, подписанный админ и сам гость
// получают help_chat_message.
func TestGuestMessageReachesSubscribedAdmin(t *testing.T) {
	store := newMemStore()
	directory := &memDirectory{agents: []models.SupportAgent{
		{ID: "agent-0", Name: "Ольга", IsActive: true},
	}}
	srv := newWsTestServer(t, store, directory)

	admin := dialWs(t, srv)
	sendFrame(t, admin, `{"type":"auth","userId":"admin-1","role":"admin"}`)
	readUntil(t, admin, "auth_success")

	sendFrame(t, admin, `{"type":"admin_join_conversation","guestId":"guest-1","selectedAgentId":null}`)
	join := readUntil(t, admin, "admin_join_success")
	assert.Equal(t, "guest-1", join["guestId"])
	assigned, ok := join["assignedAgent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent-0", assigned["id"])

	guest := dialWs(t, srv)
	sendFrame(t, guest, `{"type":"auth","userId":"guest-1","role":"visitor"}`)
	readUntil(t, guest, "auth_success")

	// админ видит выход гостя в сеть
	online := readUntil(t, admin, "help_chat_guest_online")
	assert.Equal(t, "guest-1", online["guestId"])

	sendFrame(t, guest, `{"type":"help_chat_send_message","message":"здравствуйте"}`)

	adminMsg := readUntil(t, admin, "help_chat_message")
	assert.Equal(t, "guest-1", adminMsg["guestId"])
	assert.Equal(t, "здравствуйте", adminMsg["message"])
	assert.Equal(t, "visitor", adminMsg["sender"])

	guestMsg := readUntil(t, guest, "help_chat_message")
	assert.Equal(t, "здравствуйте", guestMsg["message"])
}

// Выход админа: синтетическое сообщение в беседу и широковещательное
// conversation_assignment_cleared.
func TestLeaveBroadcastsAssignmentCleared(t *testing.T) {
	store := newMemStore()
	directory := &memDirectory{agents: []models.SupportAgent{
		{ID: "agent-0", Name: "Ольга", IsActive: true},
	}}
	srv := newWsTestServer(t, store, directory)

	admin := dialWs(t, srv)
	sendFrame(t, admin, `{"type":"auth","userId":"admin-1","role":"admin"}`)
	readUntil(t, admin, "auth_success")

	sendFrame(t, admin, `{"type":"admin_join_conversation","guestId":"guest-1","selectedAgentId":"agent-0"}`)
	readUntil(t, admin, "admin_join_success")

	// второй админ без подписки получает только широковещательные события
	observer := dialWs(t, srv)
	sendFrame(t, observer, `{"type":"auth","userId":"admin-2","role":"moderator"}`)
	readUntil(t, observer, "auth_success")

	sendFrame(t, admin, `{"type":"admin_leave_conversation","guestId":"guest-1"}`)

	leaveMsg := readUntil(t, admin, "help_chat_message")
	assert.Equal(t, true, leaveMsg["isAutoMessage"])
	assert.Contains(t, leaveMsg["message"], "Ольга")

	cleared := readUntil(t, admin, "conversation_assignment_cleared")
	assert.Equal(t, "guest-1", cleared["guestId"])

	observerCleared := readUntil(t, observer, "conversation_assignment_cleared")
	assert.Equal(t, "guest-1", observerCleared["guestId"])

	// назначение снято в хранилище
	assigned, err := store.AssignedAgent(context.Background(), "guest-1")
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestJoinUnknownAgentKeepsState(t *testing.T) {
	store := newMemStore()
	srv := newWsTestServer(t, store, &memDirectory{})

	admin := dialWs(t, srv)
	sendFrame(t, admin, `{"type":"auth","userId":"admin-1","role":"admin"}`)
	readUntil(t, admin, "auth_success")

	sendFrame(t, admin, `{"type":"admin_join_conversation","guestId":"guest-1","selectedAgentId":"no-such"}`)
	frame := readUntil(t, admin, "error")
	assert.Equal(t, "unknown_agent", frame["code"])

	assigned, err := store.AssignedAgent(context.Background(), "guest-1")
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestVisitorCannotJoin(t *testing.T) {
	srv := newWsTestServer(t, newMemStore(), &memDirectory{})

	guest := dialWs(t, srv)
	sendFrame(t, guest, `{"type":"auth","userId":"guest-1","role":"visitor"}`)
	readUntil(t, guest, "auth_success")

	sendFrame(t, guest, `{"type":"admin_join_conversation","guestId":"guest-1","selectedAgentId":null}`)
	frame := readUntil(t, guest, "error")
	assert.Equal(t, "access_denied", frame["code"])
}
