package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/egor/helpchatserver/models"
)

// Типы событий клиент→сервер
const (
	EventAuth              = "auth"
	EventSendMessage       = "help_chat_send_message"
	EventJoinConversation  = "admin_join_conversation"
	EventLeaveConversation = "admin_leave_conversation"
)

// Типы событий сервер→клиент
const (
	EventAuthSuccess       = "auth_success"
	EventMessage           = "help_chat_message"
	EventGuestOnline       = "help_chat_guest_online"
	EventJoinSuccess       = "admin_join_success"
	EventAssignmentCleared = "conversation_assignment_cleared"
	EventError             = "error"
)

// ErrMissingType возвращается, когда у кадра нет дискриминатора type.
var ErrMissingType = errors.New("событие без поля type")

// Envelope - разобранный кадр протокола. Каждый кадр в обе стороны -
// плоский JSON-объект { "type": string, ...payload }; поля payload
// лежат на верхнем уровне, не во вложенном объекте.
type Envelope struct {
	Type string `json:"type"`
	Raw  []byte `json:"-"`
}

// Decode разбирает кадр и проверяет наличие type. Ошибка разбора не
// фатальна для соединения: вызывающая сторона логирует и отбрасывает.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.Raw = raw
	return &env, nil
}

// Bind декодирует payload кадра в структуру конкретного события.
func (e *Envelope) Bind(dst any) error {
	return json.Unmarshal(e.Raw, dst)
}

// ─────────────────────────── payload'ы клиент→сервер

// AuthPayload - регистрация соединения за актером { userId, role }.
type AuthPayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// SendMessagePayload - отправка сообщения в беседу.
type SendMessagePayload struct {
	GuestID string `json:"guestId"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// JoinConversationPayload - подписка админа на беседу с назначением
// агента. SelectedAgentID == nil означает автоматический режим.
type JoinConversationPayload struct {
	GuestID         string  `json:"guestId"`
	SelectedAgentID *string `json:"selectedAgentId"`
}

// LeaveConversationPayload - выход админа из беседы. Имя агента клиент
// не передает: сервер разрешает назначенного агента сам.
type LeaveConversationPayload struct {
	GuestID string `json:"guestId"`
}

// ─────────────────────────── кадры клиент→сервер

type authRequest struct {
	Type string `json:"type"`
	AuthPayload
}

type sendMessageRequest struct {
	Type string `json:"type"`
	SendMessagePayload
}

type joinConversationRequest struct {
	Type string `json:"type"`
	JoinConversationPayload
}

type leaveConversationRequest struct {
	Type string `json:"type"`
	LeaveConversationPayload
}

// NewAuthRequest создает кадр auth для привязки соединения к актеру
func NewAuthRequest(userID, role string) ([]byte, error) {
	return json.Marshal(authRequest{
		Type:        EventAuth,
		AuthPayload: AuthPayload{UserID: userID, Role: role},
	})
}

// NewSendMessageRequest создает кадр отправки сообщения
func NewSendMessageRequest(guestID, message string) ([]byte, error) {
	return json.Marshal(sendMessageRequest{
		Type:               EventSendMessage,
		SendMessagePayload: SendMessagePayload{GuestID: guestID, Message: message},
	})
}

// NewJoinConversationRequest создает кадр входа админа в беседу
func NewJoinConversationRequest(guestID string, selectedAgentID *string) ([]byte, error) {
	return json.Marshal(joinConversationRequest{
		Type:                    EventJoinConversation,
		JoinConversationPayload: JoinConversationPayload{GuestID: guestID, SelectedAgentID: selectedAgentID},
	})
}

// NewLeaveConversationRequest создает кадр выхода админа из беседы
func NewLeaveConversationRequest(guestID string) ([]byte, error) {
	return json.Marshal(leaveConversationRequest{
		Type:                     EventLeaveConversation,
		LeaveConversationPayload: LeaveConversationPayload{GuestID: guestID},
	})
}

// ─────────────────────────── события сервер→клиент

type authSuccessEvent struct {
	Type string `json:"type"`
}

type messageEvent struct {
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	GuestID       string    `json:"guestId"`
	Message       string    `json:"message"`
	Sender        string    `json:"sender"`
	Timestamp     time.Time `json:"timestamp"`
	AgentID       *string   `json:"agentId,omitempty"`
	IsAutoMessage bool      `json:"isAutoMessage,omitempty"`
}

type guestOnlineEvent struct {
	Type    string `json:"type"`
	GuestID string `json:"guestId"`
}

type joinSuccessEvent struct {
	Type          string               `json:"type"`
	GuestID       string               `json:"guestId"`
	AssignedAgent *models.SupportAgent `json:"assignedAgent"`
}

type assignmentClearedEvent struct {
	Type    string `json:"type"`
	GuestID string `json:"guestId"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Context string `json:"context,omitempty"`
}

// NewAuthSuccess создает событие успешной регистрации соединения
func NewAuthSuccess() ([]byte, error) {
	return json.Marshal(authSuccessEvent{Type: EventAuthSuccess})
}

// NewHelpChatMessage создает событие нового сообщения беседы
func NewHelpChatMessage(msg *models.Message) ([]byte, error) {
	return json.Marshal(messageEvent{
		Type:          EventMessage,
		ID:            msg.ID.String(),
		GuestID:       msg.GuestID,
		Message:       msg.Content,
		Sender:        msg.Sender,
		Timestamp:     msg.Timestamp,
		AgentID:       msg.AgentID,
		IsAutoMessage: msg.IsAutoMessage,
	})
}

// NewGuestOnline создает событие присутствия гостя
func NewGuestOnline(guestID string) ([]byte, error) {
	return json.Marshal(guestOnlineEvent{Type: EventGuestOnline, GuestID: guestID})
}

// NewAdminJoinSuccess создает адресный ответ на admin_join_conversation.
// Отправляется только запросившему соединению и никогда не
// рассылается: остальные админы узнают о назначении через refetch
// списка бесед. Эту асимметрию нельзя ломать - на ней построена
// инвалидация кэша на клиенте.
func NewAdminJoinSuccess(guestID string, agent *models.SupportAgent) ([]byte, error) {
	return json.Marshal(joinSuccessEvent{
		Type:          EventJoinSuccess,
		GuestID:       guestID,
		AssignedAgent: agent,
	})
}

// NewAssignmentCleared создает широковещательное событие снятия
// назначения. В отличие от admin_join_success рассылается всем
// админ-соединениям.
func NewAssignmentCleared(guestID string) ([]byte, error) {
	return json.Marshal(assignmentClearedEvent{Type: EventAssignmentCleared, GuestID: guestID})
}

// NewErrorEvent создает типизированное событие ошибки { code, context }
func NewErrorEvent(code, context string) ([]byte, error) {
	return json.Marshal(errorEvent{Type: EventError, Code: code, Context: context})
}
