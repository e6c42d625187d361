package handlers

import (
	"github.com/egor/helpchatserver/chat"
	websocketpkg "github.com/egor/helpchatserver/websocket"
)

// Глобальные зависимости WebSocket обработчиков.
// Инициализируются из main при старте сервера.
var (
	// WebSocketHub - хаб соединений
	WebSocketHub *websocketpkg.Hub

	// ChatRegistry - реестр бесед
	ChatRegistry *chat.Registry

	// Assignments - координатор назначений агентов
	Assignments *chat.Coordinator
)

// InitWebSocket устанавливает зависимости WebSocket обработчиков
func InitWebSocket(hub *websocketpkg.Hub, registry *chat.Registry, coordinator *chat.Coordinator) {
	WebSocketHub = hub
	ChatRegistry = registry
	Assignments = coordinator
}
