package handlers

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/egor/helpchatserver/middleware"
	"github.com/egor/helpchatserver/models"
)

// SendHelpMessage - HTTP-фолбэк для отправки сообщения, когда WebSocket
// недоступен (корпоративные прокси, упавшее соединение до reconnect).
// Сообщение проходит тот же путь, что и по сокету: реестр добавляет его
// в беседу и рассылает подключенным клиентам.
func SendHelpMessage(c *gin.Context) {
	var incoming models.IncomingHelpMessage
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный формат запроса"})
		return
	}
	if incoming.GuestID == "" || incoming.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "необходимы поля guestId и message"})
		return
	}

	// Отправитель - админ только при валидном JWT в заголовке,
	// иначе сообщение считается гостевым
	sender := models.SenderVisitor
	var agentID *string

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
		if claims, err := middleware.ValidateToken(tokenString); err == nil && models.IsAdminRole(claims.Role) {
			sender = models.SenderAdmin
			agentID = &claims.AdminID
		}
	}

	msg, err := ChatRegistry.AppendMessage(c.Request.Context(), incoming.GuestID, incoming.Message, sender, agentID, false)
	if err != nil {
		log.Printf("SendHelpMessage: ошибка добавления сообщения: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ошибка при отправке сообщения"})
		return
	}

	log.Printf("SendHelpMessage: сообщение %s добавлено в беседу %s (HTTP-фолбэк)", msg.ID, incoming.GuestID)
	c.JSON(http.StatusOK, gin.H{
		"status":  "delivered",
		"message": msg,
	})
}

// GetWebSocketInfo сообщает клиенту параметры подключения к сокету.
// Виджет встраивается на чужие страницы и не знает адрес сервера
// заранее.
func GetWebSocketInfo(c *gin.Context) {
	scheme := "ws"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}

	host := os.Getenv("PUBLIC_HOST")
	if host == "" {
		host = c.Request.Host
	}

	c.JSON(http.StatusOK, gin.H{
		"url":              scheme + "://" + host + "/ws",
		"fallbackUrl":      "/api/help-chat/send",
		"reconnectDelayMs": 3000,
	})
}
