package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/egor/helpchatserver/chat"
	"github.com/egor/helpchatserver/models"
	websocketpkg "github.com/egor/helpchatserver/websocket"
)

// wsUpgrader апгрейдит HTTP→WebSocket с улучшенной проверкой Origin
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin проверяет, разрешен ли Origin для подключения
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Разрешаем локальные подключения без Origin
		host := r.Host
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			return true
		}
		return false
	}

	// Получаем разрешенные origins из переменных окружения
	allowedOrigins := []string{}

	// Основной URL фронтенда
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	// Дополнительные разрешенные origins
	if additional := os.Getenv("ADDITIONAL_ALLOWED_ORIGINS"); additional != "" {
		for _, url := range strings.Split(additional, ",") {
			url = strings.TrimSpace(url)
			if url != "" {
				allowedOrigins = append(allowedOrigins, url)
			}
		}
	}

	// Проверяем, есть ли origin в списке разрешенных
	for _, allowed := range allowedOrigins {
		if allowed == origin {
			return true
		}
	}

	// Для разработки можно разрешить все origins
	if os.Getenv("ALLOW_ALL_ORIGINS") == "true" {
		log.Printf("ВНИМАНИЕ: Разрешен origin %s (ALLOW_ALL_ORIGINS=true)", origin)
		return true
	}

	log.Printf("Отклонен origin: %s", origin)
	return false
}

// ServeWs обрабатывает WebSocket соединение. Апгрейд не требует токена:
// соединение привязывается к актеру первым событием auth, а до него
// все привилегированные события отклоняются.
func ServeWs(c *gin.Context) {
	log.Printf("ServeWs: новое соединение от %s, origin: %s",
		c.ClientIP(), c.Request.Header.Get("Origin"))

	// Апгрейдим соединение
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ServeWs: ошибка апгрейда соединения: %v", err)
		return
	}

	// Создаем нового клиента
	client := websocketpkg.NewClient(WebSocketHub, conn)

	// Регистрируем клиента в хабе
	WebSocketHub.Register <- client

	// Запускаем горутины обработки
	go client.WritePump()
	go func() {
		client.ReadPump(processWebSocketMessage)

		// Гостевое соединение закрылось: отмечаем гостя офлайн.
		// Событие отсутствия не рассылаем, уход гостя виден админам
		// через refetch списка бесед.
		if guestID := client.GuestID(); guestID != "" {
			if err := ChatRegistry.MarkGuestOffline(context.Background(), guestID); err != nil {
				log.Printf("ServeWs: ошибка отметки гостя офлайн: %v", err)
			}
		}
	}()
}

// processWebSocketMessage обрабатывает входящие WebSocket сообщения
func processWebSocketMessage(client *websocketpkg.Client, raw []byte) {
	env, err := websocketpkg.Decode(raw)
	if err != nil {
		if errors.Is(err, websocketpkg.ErrMissingType) {
			client.SendError("missing_type", "Событие без поля type")
			return
		}
		client.SendError("invalid_json", "Некорректный формат JSON")
		return
	}

	switch env.Type {
	case websocketpkg.EventAuth:
		processAuth(client, env)
	case websocketpkg.EventSendMessage:
		processSendMessage(client, env)
	case websocketpkg.EventJoinConversation:
		processJoinConversation(client, env)
	case websocketpkg.EventLeaveConversation:
		processLeaveConversation(client, env)
	default:
		client.SendError("unknown_type", "Неизвестный тип события: "+env.Type)
	}
}

// processAuth привязывает соединение к актеру. Роль заявляется клиентом
// и не проверяется по токену: граница доверия проходит по контуру
// платформы, виджет и админка работают внутри нее. Оставлено как есть
// сознательно, см. DESIGN.md.
func processAuth(client *websocketpkg.Client, env *websocketpkg.Envelope) {
	var p websocketpkg.AuthPayload
	if err := env.Bind(&p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для auth")
		return
	}
	if p.UserID == "" || p.Role == "" {
		client.SendError("missing_fields", "Необходимы поля userId и role")
		return
	}

	client.SetIdentity(p.UserID, p.Role)
	log.Printf("processAuth: соединение привязано к %s (роль %s)", p.UserID, p.Role)

	// Гость объявляется онлайн при каждом auth, включая повторный
	// после reconnect
	if p.Role == models.RoleVisitor {
		if err := ChatRegistry.MarkGuestOnline(context.Background(), p.UserID); err != nil {
			log.Printf("processAuth: ошибка отметки гостя онлайн: %v", err)
		}
	}

	data, err := websocketpkg.NewAuthSuccess()
	if err != nil {
		log.Printf("processAuth: ошибка маршализации auth_success: %v", err)
		return
	}
	client.Send(data)
}

// processSendMessage обрабатывает отправку сообщения в беседу
func processSendMessage(client *websocketpkg.Client, env *websocketpkg.Envelope) {
	userID, _, ok := client.Identity()
	if !ok {
		client.SendError("not_authenticated", "Сначала отправьте событие auth")
		return
	}

	var p websocketpkg.SendMessagePayload
	if err := env.Bind(&p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для help_chat_send_message")
		return
	}
	if p.Message == "" {
		client.SendError("missing_fields", "Необходимо поле message")
		return
	}

	// Отправителя и беседу определяем по соединению, а не по payload:
	// гость пишет только в свою беседу и только как visitor
	var (
		guestID string
		sender  string
		agentID *string
	)
	if gid := client.GuestID(); gid != "" {
		guestID = gid
		sender = models.SenderVisitor
	} else {
		if !client.IsAdmin() {
			client.SendError("access_denied", "Роль не позволяет отправлять сообщения")
			return
		}
		if p.GuestID == "" {
			client.SendError("missing_fields", "Необходимо поле guestId")
			return
		}
		guestID = p.GuestID
		sender = models.SenderAdmin
		agentID = &userID
	}

	msg, err := ChatRegistry.AppendMessage(context.Background(), guestID, p.Message, sender, agentID, false)
	if err != nil {
		log.Printf("processSendMessage: ошибка добавления сообщения: %v", err)
		client.SendError("db_error", "Ошибка при отправке сообщения")
		return
	}

	log.Printf("processSendMessage: сообщение %s добавлено в беседу %s от %s", msg.ID, guestID, sender)
}

// processJoinConversation обрабатывает admin_join_conversation:
// назначение агента через координатор, подписка соединения на беседу
// и адресный admin_join_success. Ответ никогда не рассылается другим
// соединениям.
func processJoinConversation(client *websocketpkg.Client, env *websocketpkg.Envelope) {
	if !client.IsAdmin() {
		client.SendError("access_denied", "admin_join_conversation доступен только админам")
		return
	}

	var p websocketpkg.JoinConversationPayload
	if err := env.Bind(&p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для admin_join_conversation")
		return
	}
	if p.GuestID == "" {
		client.SendError("missing_fields", "Необходимо поле guestId")
		return
	}

	result, err := Assignments.Join(context.Background(), p.GuestID, p.SelectedAgentID)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownAgent) {
			client.SendError("unknown_agent", "Выбранный агент не найден в каталоге")
			return
		}
		log.Printf("processJoinConversation: ошибка назначения: %v", err)
		client.SendError("db_error", "Ошибка при входе в беседу")
		return
	}

	// Подписываем соединение на беседу; прежняя подписка снимается
	WebSocketHub.Subscribe(client, p.GuestID)

	data, err := websocketpkg.NewAdminJoinSuccess(result.GuestID, result.AssignedAgent)
	if err != nil {
		log.Printf("processJoinConversation: ошибка маршализации ответа: %v", err)
		return
	}
	client.Send(data)

	log.Printf("processJoinConversation: админ вошел в беседу %s", p.GuestID)
}

// processLeaveConversation обрабатывает admin_leave_conversation
func processLeaveConversation(client *websocketpkg.Client, env *websocketpkg.Envelope) {
	if !client.IsAdmin() {
		client.SendError("access_denied", "admin_leave_conversation доступен только админам")
		return
	}

	var p websocketpkg.LeaveConversationPayload
	if err := env.Bind(&p); err != nil {
		client.SendError("invalid_payload", "Некорректный формат данных для admin_leave_conversation")
		return
	}
	if p.GuestID == "" {
		client.SendError("missing_fields", "Необходимо поле guestId")
		return
	}

	if err := Assignments.Leave(context.Background(), p.GuestID); err != nil {
		log.Printf("processLeaveConversation: ошибка выхода из беседы: %v", err)
		client.SendError("db_error", "Ошибка при выходе из беседы")
		return
	}

	// Снимаем подписку соединения
	if client.Subscribed() == p.GuestID {
		WebSocketHub.Unsubscribe(client)
	}

	log.Printf("processLeaveConversation: админ вышел из беседы %s", p.GuestID)
}
