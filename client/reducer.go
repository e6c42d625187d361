// Package client - Go-клиент протокола help-чата: менеджер соединения
// с фиксированным reconnect и редьюсер состояния интерфейса.
package client

import (
	"sync"

	"github.com/egor/helpchatserver/models"
	websocketpkg "github.com/egor/helpchatserver/websocket"
)

// Status - состояние соединения клиента
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusAuthenticated
)

// State - снимок состояния интерфейса. События сервера не несут данных
// для точечного обновления; вместо этого они помечают кэши протухшими,
// а владелец состояния перечитывает их через HTTP. Инвалидация дешевле
// и надежнее инкрементальных патчей: после reconnect состояние сходится
// одним refetch.
type State struct {
	Status Status

	// SelectedGuestID - открытая беседа админа, "" если нет
	SelectedGuestID string

	// PendingJoinGuestID - беседа, по которой ждем admin_join_success
	PendingJoinGuestID string

	// AssignedAgent - агент открытой беседы из последнего
	// admin_join_success; nil при автоназначении без активных агентов
	AssignedAgent *models.SupportAgent

	// ListStale - список бесед требует refetch
	ListStale bool

	// StaleTranscripts - беседы, чьи транскрипты требуют refetch
	StaleTranscripts map[string]bool

	// LastError - последнее событие error от сервера
	LastError *ServerError
}

// ServerError - типизированная ошибка протокола { code, context }
type ServerError struct {
	Code    string
	Context string
}

// Reducer принимает сырые кадры сервера и сводит их в State.
// Редьюсер никогда не паникует: неизвестные и битые кадры молча
// игнорируются, чтобы старый клиент переживал новые типы событий.
type Reducer struct {
	mu    sync.Mutex
	state State
}

// NewReducer создает редьюсер с пустым состоянием
func NewReducer() *Reducer {
	return &Reducer{
		state: State{
			Status:           StatusDisconnected,
			StaleTranscripts: make(map[string]bool),
		},
	}
}

// State возвращает копию текущего состояния
func (r *Reducer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.state
	snapshot.StaleTranscripts = make(map[string]bool, len(r.state.StaleTranscripts))
	for k, v := range r.state.StaleTranscripts {
		snapshot.StaleTranscripts[k] = v
	}
	return snapshot
}

// Apply применяет кадр сервера к состоянию
func (r *Reducer) Apply(raw []byte) {
	env, err := websocketpkg.Decode(raw)
	if err != nil {
		// битый кадр не роняет клиента
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.Type {
	case websocketpkg.EventAuthSuccess:
		r.state.Status = StatusAuthenticated
		// после reconnect список мог разойтись с сервером
		r.state.ListStale = true
		if r.state.SelectedGuestID != "" {
			r.state.StaleTranscripts[r.state.SelectedGuestID] = true
		}

	case websocketpkg.EventMessage:
		var p struct {
			GuestID string `json:"guestId"`
		}
		if env.Bind(&p) != nil || p.GuestID == "" {
			return
		}
		r.state.ListStale = true
		r.state.StaleTranscripts[p.GuestID] = true

	case websocketpkg.EventGuestOnline:
		r.state.ListStale = true

	case websocketpkg.EventJoinSuccess:
		var p struct {
			GuestID       string               `json:"guestId"`
			AssignedAgent *models.SupportAgent `json:"assignedAgent"`
		}
		if env.Bind(&p) != nil || p.GuestID == "" {
			return
		}
		// ответ адресный, но сверяемся с ожиданием: запоздавший ответ
		// по беседе, из которой уже вышли, не должен менять выбор
		if r.state.PendingJoinGuestID != "" && r.state.PendingJoinGuestID != p.GuestID {
			return
		}
		r.state.PendingJoinGuestID = ""
		r.state.SelectedGuestID = p.GuestID
		r.state.AssignedAgent = p.AssignedAgent
		r.state.StaleTranscripts[p.GuestID] = true

	case websocketpkg.EventAssignmentCleared:
		var p struct {
			GuestID string `json:"guestId"`
		}
		if env.Bind(&p) != nil || p.GuestID == "" {
			return
		}
		// назначение видно в списке бесед у всех админов, а в саму
		// беседу выход агента добавляет авто-сообщение: ее транскрипт
		// протухает независимо от того, открыта она или нет
		r.state.ListStale = true
		r.state.StaleTranscripts[p.GuestID] = true
		if r.state.SelectedGuestID == p.GuestID {
			r.state.AssignedAgent = nil
		}

	case websocketpkg.EventError:
		var p struct {
			Code    string `json:"code"`
			Context string `json:"context"`
		}
		if env.Bind(&p) != nil {
			return
		}
		r.state.LastError = &ServerError{Code: p.Code, Context: p.Context}
		if p.Code == "unknown_agent" {
			r.state.PendingJoinGuestID = ""
		}

	default:
		// неизвестный тип события: игнорируем
	}
}

// BeginJoin помечает беседу ожидающей admin_join_success
func (r *Reducer) BeginJoin(guestID string) {
	r.mu.Lock()
	r.state.PendingJoinGuestID = guestID
	r.mu.Unlock()
}

// LeaveLocal сбрасывает локальный выбор беседы при выходе.
// Широковещательное conversation_assignment_cleared придет следом и
// пометит список протухшим.
func (r *Reducer) LeaveLocal(guestID string) {
	r.mu.Lock()
	if r.state.SelectedGuestID == guestID {
		r.state.SelectedGuestID = ""
		r.state.AssignedAgent = nil
	}
	r.mu.Unlock()
}

// AckListRefetched снимает флаг протухшего списка после refetch
func (r *Reducer) AckListRefetched() {
	r.mu.Lock()
	r.state.ListStale = false
	r.mu.Unlock()
}

// AckTranscriptRefetched снимает флаг протухшего транскрипта
func (r *Reducer) AckTranscriptRefetched(guestID string) {
	r.mu.Lock()
	delete(r.state.StaleTranscripts, guestID)
	r.mu.Unlock()
}

// setStatus выставляет состояние соединения. Разрыв не сбрасывает
// выбор беседы: после переподключения и refetch состояние сходится.
func (r *Reducer) setStatus(s Status) {
	r.mu.Lock()
	r.state.Status = s
	r.mu.Unlock()
}
