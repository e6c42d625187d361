package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/egor/helpchatserver/models"
	"github.com/egor/helpchatserver/websocket"
)

// ErrUnknownAgent возвращается при попытке назначить агента,
// отсутствующего в каталоге. Состояние беседы не меняется.
var ErrUnknownAgent = errors.New("агент не найден в каталоге")

// Coordinator реализует политику назначения агентов: ручной выбор,
// автоматический режим, эксклюзивность назначения и протокол выхода.
// Машина состояний беседы: Unassigned → Assigned(agentId) → Unassigned.
// Переназначение идет только через явный clear-then-set (leave, затем
// join); неявной перезаписи назначения нет.
type Coordinator struct {
	registry  *Registry
	store     Store
	directory AgentDirectory
	hub       Broadcaster
}

// NewCoordinator создает координатор назначений
func NewCoordinator(registry *Registry, store Store, directory AgentDirectory, hub Broadcaster) *Coordinator {
	return &Coordinator{
		registry:  registry,
		store:     store,
		directory: directory,
		hub:       hub,
	}
}

// JoinResult - результат admin_join_conversation. AssignedAgent == nil
// означает, что агент не назначен (автоматический режим не нашел
// активных агентов); результат сообщается всегда, без двусмысленности.
type JoinResult struct {
	GuestID       string
	AssignedAgent *models.SupportAgent
}

// Join обрабатывает admin_join_conversation. selectedAgentID == nil -
// автоматический режим (первый активный агент каталога); non-nil -
// явный выбор админа, валидируемый по каталогу. Если беседа уже
// назначена, назначение не трогается и возвращается текущий агент:
// гонка двух join разрешается как last-writer-wins по сериализации,
// проигравший видит состояние победителя.
func (c *Coordinator) Join(ctx context.Context, guestID string, selectedAgentID *string) (*JoinResult, error) {
	unlock := c.registry.lockConversation(guestID)
	defer unlock()

	current, err := c.store.AssignedAgent(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("чтение назначения беседы %s: %w", guestID, err)
	}
	if current != "" {
		return &JoinResult{GuestID: guestID, AssignedAgent: c.resolveAgent(ctx, current)}, nil
	}

	var agent *models.SupportAgent
	if selectedAgentID != nil {
		agent, err = c.directory.Agent(ctx, *selectedAgentID)
		if err != nil {
			return nil, fmt.Errorf("каталог агентов: %w", err)
		}
		if agent == nil {
			return nil, ErrUnknownAgent
		}
	} else {
		agent = c.pickAgent(ctx)
	}

	if agent != nil {
		if err := c.store.AssignAgent(ctx, guestID, agent.ID); err != nil {
			return nil, fmt.Errorf("назначение агента на беседу %s: %w", guestID, err)
		}
	}

	return &JoinResult{GuestID: guestID, AssignedAgent: agent}, nil
}

// Leave обрабатывает admin_leave_conversation: разрешает назначенного
// агента на сервере (клиентским данным тут не доверяем), добавляет
// синтетическое сообщение о выходе и рассылает
// conversation_assignment_cleared всем админам. Выход из беседы без
// назначения - безопасный no-op: кнопка "назад" у одного админа может
// гоняться со снятием назначения из другой вкладки.
func (c *Coordinator) Leave(ctx context.Context, guestID string) error {
	unlock := c.registry.lockConversation(guestID)
	defer unlock()

	prev, err := c.store.ClearAssignedAgent(ctx, guestID)
	if err != nil {
		return fmt.Errorf("снятие назначения беседы %s: %w", guestID, err)
	}
	if prev == "" {
		return nil
	}

	name := prev
	if agent := c.resolveAgent(ctx, prev); agent != nil {
		name = agent.Name
	}

	notice := fmt.Sprintf("%s left the conversation", name)
	if _, err := c.registry.appendLocked(ctx, guestID, notice, models.SenderAdmin, &prev, true); err != nil {
		log.Printf("Leave: ошибка добавления сообщения о выходе: %v", err)
	}

	data, err := websocket.NewAssignmentCleared(guestID)
	if err != nil {
		return fmt.Errorf("маршализация события снятия назначения: %w", err)
	}
	c.hub.BroadcastToAdmins(data)
	return nil
}

// resolveAgent возвращает агента по id; при недоступном каталоге
// отдает запись с одним id, чтобы назначение не терялось в ответе.
func (c *Coordinator) resolveAgent(ctx context.Context, id string) *models.SupportAgent {
	agent, err := c.directory.Agent(ctx, id)
	if err != nil {
		log.Printf("resolveAgent: каталог агентов недоступен: %v", err)
		return &models.SupportAgent{ID: id}
	}
	if agent == nil {
		return &models.SupportAgent{ID: id}
	}
	return agent
}

// pickAgent - политика автоназначения: первый активный агент каталога.
// Пустой каталог или его недоступность дают null-назначение.
func (c *Coordinator) pickAgent(ctx context.Context) *models.SupportAgent {
	agents, err := c.directory.ActiveAgents(ctx)
	if err != nil {
		log.Printf("pickAgent: каталог агентов недоступен: %v", err)
		return nil
	}
	for i := range agents {
		if agents[i].IsActive {
			return &agents[i]
		}
	}
	return nil
}
