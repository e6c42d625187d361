package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/egor/helpchatserver/database"
)

// GetConversations возвращает страницу списка бесед для панели
// поддержки. Список - снимок на момент запроса; актуальность
// поддерживается на клиенте через события и refetch.
func GetConversations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(database.DefaultPageSize)))

	conversations, total, err := database.GetConversations(page, pageSize)
	if err != nil {
		log.Printf("GetConversations: ошибка получения бесед: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ошибка получения бесед"})
		return
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > database.MaxPageSize {
		pageSize = database.DefaultPageSize
	}
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"page":          page,
		"pageSize":      pageSize,
		"totalItems":    total,
		"totalPages":    totalPages,
	})
}

// GetConversationByGuestID возвращает беседу с историей сообщений.
// Открытие транскрипта админом отмечает гостевые сообщения
// прочитанными.
func GetConversationByGuestID(c *gin.Context) {
	guestID := c.Param("guestId")
	if guestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "необходим guestId"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(database.DefaultPageSize)))

	conv, total, err := database.GetConversationByGuestID(guestID, page, pageSize)
	if err != nil {
		log.Printf("GetConversationByGuestID: ошибка получения беседы %s: %v", guestID, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "беседа не найдена"})
		return
	}

	if err := database.MarkMessagesAsRead(guestID); err != nil {
		log.Printf("GetConversationByGuestID: ошибка маркировки сообщений: %v", err)
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > database.MaxPageSize {
		pageSize = database.DefaultPageSize
	}
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"page":         page,
		"pageSize":     pageSize,
		"totalItems":   total,
		"totalPages":   totalPages,
	})
}

// MarkConversationRead отмечает гостевые сообщения беседы прочитанными
func MarkConversationRead(c *gin.Context) {
	guestID := c.Param("guestId")
	if guestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "необходим guestId"})
		return
	}

	if err := database.MarkMessagesAsRead(guestID); err != nil {
		log.Printf("MarkConversationRead: ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ошибка обновления статуса сообщений"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
