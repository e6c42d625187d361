package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egor/helpchatserver/models"
)

func TestDecodeValidFrame(t *testing.T) {
	env, err := Decode([]byte(`{"type":"auth","userId":"u-1","role":"visitor"}`))
	require.NoError(t, err)
	assert.Equal(t, EventAuth, env.Type)

	var p AuthPayload
	require.NoError(t, env.Bind(&p))
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, "visitor", p.Role)
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"guestId":"g-1"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingType)
}

// Все кадры протокола - плоские JSON-объекты: поля payload лежат рядом
// с type, без вложенного объекта.
func TestMessageEventFlatShape(t *testing.T) {
	agentID := "agent-0"
	msg := &models.Message{
		ID:        uuid.New(),
		GuestID:   "guest-1",
		Content:   "привет",
		Sender:    models.SenderAdmin,
		AgentID:   &agentID,
		Timestamp: time.Now(),
	}

	data, err := NewHelpChatMessage(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, EventMessage, raw["type"])
	assert.Equal(t, "guest-1", raw["guestId"])
	assert.Equal(t, "привет", raw["message"])
	assert.Equal(t, "admin", raw["sender"])
	assert.Equal(t, "agent-0", raw["agentId"])
	assert.NotContains(t, raw, "payload")
	// немаркированное авто-сообщение не тащит в кадр лишнее поле
	assert.NotContains(t, raw, "isAutoMessage")
}

func TestJoinSuccessNullAssignment(t *testing.T) {
	data, err := NewAdminJoinSuccess("guest-1", nil)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, EventJoinSuccess, raw["type"])
	assert.Equal(t, "guest-1", raw["guestId"])
	// null-назначение сообщается явно, ключ присутствует
	v, ok := raw["assignedAgent"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestJoinSuccessWithAgent(t *testing.T) {
	agent := &models.SupportAgent{ID: "agent-0", Name: "Ольга", IsActive: true}
	data, err := NewAdminJoinSuccess("guest-1", agent)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assigned, ok := raw["assignedAgent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "agent-0", assigned["id"])
	assert.Equal(t, "Ольга", assigned["name"])
}

func TestErrorEventShape(t *testing.T) {
	data, err := NewErrorEvent("unknown_agent", "агент не найден")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, EventError, raw["type"])
	assert.Equal(t, "unknown_agent", raw["code"])
	assert.Equal(t, "агент не найден", raw["context"])
}

// Кадры клиент→сервер разбираются серверным декодером: обе стороны
// говорят на одном формате.
func TestClientFramesRoundTrip(t *testing.T) {
	selected := "agent-0"

	frames := []struct {
		name     string
		build    func() ([]byte, error)
		wantType string
	}{
		{"auth", func() ([]byte, error) { return NewAuthRequest("u-1", "admin") }, EventAuth},
		{"send", func() ([]byte, error) { return NewSendMessageRequest("guest-1", "привет") }, EventSendMessage},
		{"join", func() ([]byte, error) { return NewJoinConversationRequest("guest-1", &selected) }, EventJoinConversation},
		{"leave", func() ([]byte, error) { return NewLeaveConversationRequest("guest-1") }, EventLeaveConversation},
	}

	for _, f := range frames {
		data, err := f.build()
		require.NoError(t, err, f.name)

		env, err := Decode(data)
		require.NoError(t, err, f.name)
		assert.Equal(t, f.wantType, env.Type, f.name)
	}
}

func TestJoinRequestAutoModeOmitsNothing(t *testing.T) {
	data, err := NewJoinConversationRequest("guest-1", nil)
	require.NoError(t, err)

	var p JoinConversationPayload
	env, err := Decode(data)
	require.NoError(t, err)
	require.NoError(t, env.Bind(&p))

	assert.Equal(t, "guest-1", p.GuestID)
	assert.Nil(t, p.SelectedAgentID)
}
