// Package chat содержит ядро протокола help-чата: реестр бесед и
// координатор назначений. Весь доступ к состоянию беседы проходит
// через Registry - единственного писателя; конкурентные отправки
// сериализуются по guestId, чтобы порядок рассылки совпадал с
// порядком добавления.
package chat

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/egor/helpchatserver/models"
	"github.com/egor/helpchatserver/websocket"
)

// Store - долговременное хранилище бесед и сообщений. Реализуется
// пакетом database; тесты подставляют свою реализацию в памяти.
type Store interface {
	// AppendMessage добавляет сообщение, лениво создавая беседу,
	// и обновляет lastMessageTime.
	AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error)

	// SetGuestActive отмечает, подключен ли гость сейчас.
	SetGuestActive(ctx context.Context, guestID string, active bool) error

	// AssignAgent назначает агента на беседу.
	AssignAgent(ctx context.Context, guestID, agentID string) error

	// AssignedAgent возвращает id назначенного агента, "" если нет.
	AssignedAgent(ctx context.Context, guestID string) (string, error)

	// ClearAssignedAgent снимает назначение и возвращает id
	// предыдущего агента, "" если назначения не было.
	ClearAssignedAgent(ctx context.Context, guestID string) (string, error)
}

// AgentDirectory - внешний каталог агентов поддержки, только чтение.
type AgentDirectory interface {
	// Agent возвращает агента по id; (nil, nil) если агент не найден.
	Agent(ctx context.Context, id string) (*models.SupportAgent, error)

	// ActiveAgents возвращает активных агентов для автоназначения.
	ActiveAgents(ctx context.Context) ([]models.SupportAgent, error)
}

// Broadcaster - fan-out событий по соединениям. Реализуется Hub'ом.
type Broadcaster interface {
	SendToConversation(guestID string, data []byte)
	BroadcastToAdmins(data []byte)
}

// Registry - единственный источник истины о состоянии бесед и точка
// сериализации их мутаций. Мьютекс на каждую беседу гарантирует, что
// порядок рассылки help_chat_message для одного guestId совпадает с
// порядком вызовов AppendMessage.
type Registry struct {
	store Store
	hub   Broadcaster

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry создает реестр бесед
func NewRegistry(store Store, hub Broadcaster) *Registry {
	return &Registry{
		store: store,
		hub:   hub,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockConversation захватывает мьютекс беседы и возвращает функцию
// освобождения. Мьютексы создаются лениво и не удаляются: число
// активных бесед на поддержке мало.
func (r *Registry) lockConversation(guestID string) func() {
	r.mu.Lock()
	l, ok := r.locks[guestID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[guestID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// AppendMessage добавляет сообщение в беседу и рассылает
// help_chat_message подписанным админам и соединению гостя.
// Конкурентные отправки для одного guestId сериализуются.
func (r *Registry) AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	unlock := r.lockConversation(guestID)
	defer unlock()
	return r.appendLocked(ctx, guestID, content, sender, agentID, isAuto)
}

// appendLocked - тело AppendMessage; вызывающий уже держит мьютекс
// беседы (Coordinator добавляет синтетические сообщения под тем же
// захватом, что и снятие назначения).
func (r *Registry) appendLocked(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	msg, err := r.store.AppendMessage(ctx, guestID, content, sender, agentID, isAuto)
	if err != nil {
		return nil, fmt.Errorf("добавление сообщения в беседу %s: %w", guestID, err)
	}

	data, err := websocket.NewHelpChatMessage(msg)
	if err != nil {
		log.Printf("AppendMessage: ошибка маршализации события: %v", err)
		return msg, nil
	}
	r.hub.SendToConversation(guestID, data)
	return msg, nil
}

// MarkGuestOnline отмечает гостя подключенным и рассылает
// help_chat_guest_online всем админ-соединениям, не только
// подписанным: событие обновляет и неподписанный список бесед.
func (r *Registry) MarkGuestOnline(ctx context.Context, guestID string) error {
	unlock := r.lockConversation(guestID)
	defer unlock()

	if err := r.store.SetGuestActive(ctx, guestID, true); err != nil {
		return fmt.Errorf("отметка гостя %s онлайн: %w", guestID, err)
	}

	data, err := websocket.NewGuestOnline(guestID)
	if err != nil {
		log.Printf("MarkGuestOnline: ошибка маршализации события: %v", err)
		return nil
	}
	r.hub.BroadcastToAdmins(data)
	return nil
}

// MarkGuestOffline отмечает гостя отключенным. События для этого нет:
// уход гостя всплывает через refetch списка (isActive).
func (r *Registry) MarkGuestOffline(ctx context.Context, guestID string) error {
	unlock := r.lockConversation(guestID)
	defer unlock()

	if err := r.store.SetGuestActive(ctx, guestID, false); err != nil {
		return fmt.Errorf("отметка гостя %s офлайн: %w", guestID, err)
	}
	return nil
}
