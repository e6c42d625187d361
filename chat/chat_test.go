package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egor/helpchatserver/models"
)

// fakeStore - хранилище в памяти для тестов ядра протокола.
type fakeStore struct {
	mu          sync.Mutex
	messages    map[string][]*models.Message
	active      map[string]bool
	assigned    map[string]string
	assignCalls int

	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string][]*models.Message),
		active:   make(map[string]bool),
		assigned: make(map[string]string),
	}
}

func (s *fakeStore) AppendMessage(ctx context.Context, guestID, content, sender string, agentID *string, isAuto bool) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
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

func (s *fakeStore) SetGuestActive(ctx context.Context, guestID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[guestID] = active
	return nil
}

func (s *fakeStore) AssignAgent(ctx context.Context, guestID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignCalls++
	s.assigned[guestID] = agentID
	return nil
}

func (s *fakeStore) AssignedAgent(ctx context.Context, guestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assigned[guestID], nil
}

func (s *fakeStore) ClearAssignedAgent(ctx context.Context, guestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.assigned[guestID]
	delete(s.assigned, guestID)
	return prev, nil
}

func (s *fakeStore) contents(guestID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.messages[guestID]))
	for _, m := range s.messages[guestID] {
		out = append(out, m.Content)
	}
	return out
}

// fakeHub записывает разосланные кадры в порядке рассылки.
type fakeHub struct {
	mu           sync.Mutex
	conversation []frame
	broadcast    [][]byte
}

type frame struct {
	guestID string
	data    []byte
}

func (h *fakeHub) SendToConversation(guestID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversation = append(h.conversation, frame{guestID: guestID, data: data})
}

func (h *fakeHub) BroadcastToAdmins(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, data)
}

func (h *fakeHub) conversationContents(guestID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, f := range h.conversation {
		if f.guestID != guestID {
			continue
		}
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(f.data, &p); err == nil {
			out = append(out, p.Message)
		}
	}
	return out
}

func (h *fakeHub) broadcastTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, data := range h.broadcast {
		var p struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &p); err == nil {
			out = append(out, p.Type)
		}
	}
	return out
}

// fakeDirectory - каталог агентов в памяти.
type fakeDirectory struct {
	mu     sync.Mutex
	agents map[string]*models.SupportAgent
	err    error
}

func newFakeDirectory(agents ...*models.SupportAgent) *fakeDirectory {
	d := &fakeDirectory{agents: make(map[string]*models.SupportAgent)}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	return d
}

func (d *fakeDirectory) Agent(ctx context.Context, id string) (*models.SupportAgent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.agents[id], nil
}

func (d *fakeDirectory) ActiveAgents(ctx context.Context) ([]models.SupportAgent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []models.SupportAgent
	// детерминированный порядок для автоназначения в тестах
	for i := 0; ; i++ {
		a, ok := d.agents[fmt.Sprintf("agent-%d", i)]
		if !ok {
			break
		}
		out = append(out, *a)
	}
	return out, nil
}
