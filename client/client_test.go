package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer - WebSocket-сервер для тестов клиента: принимает
// соединения, отвечает auth_success на auth и складывает принятые
// кадры.
type testServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	frames   [][]byte
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.accepted++
		ts.mu.Unlock()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.frames = append(ts.frames, raw)
			ts.mu.Unlock()

			var env struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(raw, &env) == nil && env.Type == "auth" {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth_success"}`))
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) acceptedCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepted
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	conns := ts.conns
	ts.conns = nil
	ts.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (ts *testServer) frameTypes() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []string
	for _, raw := range ts.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func TestConnectDeferredUntilIdentity(t *testing.T) {
	ts := newTestServer(t)

	c := New(Config{URL: ts.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	defer c.Close()

	c.Connect()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ts.acceptedCount(), "без идентичности подключения быть не должно")

	c.SetIdentity("admin-1", "admin")
	require.Eventually(t, func() bool {
		return c.State().Status == StatusAuthenticated
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, ts.acceptedCount())
	assert.Equal(t, []string{"auth"}, ts.frameTypes())
}

func TestDuplicateConnectNoOp(t *testing.T) {
	ts := newTestServer(t)

	c := New(Config{URL: ts.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	defer c.Close()

	c.SetIdentity("admin-1", "admin")
	c.Connect()
	c.Connect()
	c.Connect()

	require.Eventually(t, func() bool {
		return c.State().Status == StatusAuthenticated
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ts.acceptedCount())
}

// Каждый разрыв приводит к новому подключению с повторным auth.
func TestReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t)

	c := New(Config{URL: ts.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	defer c.Close()

	c.SetIdentity("guest-1", "visitor")
	c.Connect()

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool {
			return c.State().Status == StatusAuthenticated && ts.acceptedCount() == i
		}, time.Second, 10*time.Millisecond, "подключение #%d", i)

		ts.dropAll()
		require.Eventually(t, func() bool {
			return c.State().Status == StatusDisconnected || ts.acceptedCount() > i
		}, time.Second, 10*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return ts.acceptedCount() == 4 && c.State().Status == StatusAuthenticated
	}, time.Second, 10*time.Millisecond)

	// auth уходит на каждом подключении
	types := ts.frameTypes()
	authCount := 0
	for _, tp := range types {
		if tp == "auth" {
			authCount++
		}
	}
	assert.Equal(t, 4, authCount)
}

func TestCloseStopsReconnect(t *testing.T) {
	ts := newTestServer(t)

	c := New(Config{URL: ts.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	c.SetIdentity("guest-1", "visitor")
	c.Connect()

	require.Eventually(t, func() bool {
		return ts.acceptedCount() == 1
	}, time.Second, 10*time.Millisecond)

	c.Close()
	ts.dropAll()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.acceptedCount(), "после Close переподключений быть не должно")
}

func TestSendMessageOverSocket(t *testing.T) {
	ts := newTestServer(t)

	c := New(Config{URL: ts.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	defer c.Close()

	c.SetIdentity("guest-1", "visitor")
	c.Connect()
	require.Eventually(t, func() bool {
		return c.State().Status == StatusAuthenticated
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.SendMessage("guest-1", "привет"))

	require.Eventually(t, func() bool {
		for _, tp := range ts.frameTypes() {
			if tp == "help_chat_send_message" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

// При недоступном сокете сообщение уходит HTTP-фолбэком.
func TestSendMessageFallback(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var incoming struct {
			GuestID string `json:"guestId"`
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&incoming))
		mu.Lock()
		bodies = append(bodies, incoming.GuestID+":"+incoming.Message)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	c := New(Config{
		URL:            "ws://127.0.0.1:1/ws", // заведомо недоступен
		FallbackURL:    fallback.URL,
		ReconnectDelay: time.Hour,
	})
	defer c.Close()

	c.SetIdentity("guest-1", "visitor")
	require.NoError(t, c.SendMessage("guest-1", "привет"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"guest-1:привет"}, bodies)
}

func TestJoinRequiresConnection(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/ws", ReconnectDelay: time.Hour})
	defer c.Close()

	assert.Error(t, c.JoinConversation("guest-1", nil))
	assert.Error(t, c.LeaveConversation("guest-1"))
}
