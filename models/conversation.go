package models

import (
	"time"
)

// Статусы беседы
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// Conversation представляет собой беседу гостя со службой поддержки.
// Идентифицируется guestId - непрозрачной строкой, стабильной в рамках
// сессии гостя. Создается лениво при первом сообщении; явно не
// удаляется, архивируется по неактивности фоновой задачей.
// Инвариант: не более одного назначенного агента одновременно;
// переназначение - только через явный clear-then-set.
type Conversation struct {
	GuestID         string    `json:"guestId"`
	Messages        []Message `json:"messages"`
	IsActive        bool      `json:"isActive"` // гость сейчас подключен
	AssignedAgentID *string   `json:"assignedAgentId,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ConversationSummary для списка бесед на фронтенде
type ConversationSummary struct {
	GuestID         string    `json:"guestId"`
	IsActive        bool      `json:"isActive"`
	AssignedAgentID *string   `json:"assignedAgentId,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	LastMessage     *Message  `json:"lastMessage,omitempty"`
	UnreadCount     int       `json:"unreadCount"`
	Status          string    `json:"status"`
}

// ConversationPaginationResponse для отправки на фронтенд
type ConversationPaginationResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Page          int                   `json:"page"`
	PageSize      int                   `json:"pageSize"`
	TotalItems    int                   `json:"totalItems"`
	TotalPages    int                   `json:"totalPages"`
}
