package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли отправителей сообщений в беседе
const (
	SenderVisitor = "visitor"
	SenderAdmin   = "admin"
)

// Message представляет собой одно сообщение беседы.
// Сообщение неизменяемо после создания: протокол только добавляет.
// Ключ сортировки - timestamp, при совпадении миллисекунд порядок
// вставки сохраняется через seq (BIGSERIAL в базе).
type Message struct {
	ID            uuid.UUID `json:"id"`
	GuestID       string    `json:"guestId"`
	Content       string    `json:"message"`
	Sender        string    `json:"sender"` // "visitor" или "admin"
	AgentID       *string   `json:"agentId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	IsAutoMessage bool      `json:"isAutoMessage,omitempty"` // синтетические сообщения ("агент покинул беседу")
	Read          bool      `json:"read"`
}

// IncomingHelpMessage представляет собой входящее сообщение через
// HTTP-фолбэк (/api/help-chat/send), когда сокет недоступен.
type IncomingHelpMessage struct {
	GuestID string `json:"guestId"`
	Message string `json:"message"`
}
