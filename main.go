package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/egor/helpchatserver/agents"
	"github.com/egor/helpchatserver/chat"
	"github.com/egor/helpchatserver/database"
	"github.com/egor/helpchatserver/handlers"
	"github.com/egor/helpchatserver/middleware"
	"github.com/egor/helpchatserver/scheduler"
	"github.com/egor/helpchatserver/websocket"
)

func main() {
	// Загружаем переменные окружения из .env файла
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	// Инициализация базы данных
	if err := database.Init(); err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer database.Close()

	// Инициализация роутера Gin
	r := gin.Default()

	// Добавляем middleware для логирования
	r.Use(middleware.Logger())

	// Настройка CORS для взаимодействия с фронтендом
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{frontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Инициализация WebSocket хаба
	hub := websocket.NewHub()
	go hub.Run()

	// Сборка ядра протокола: хранилище, каталог агентов, реестр бесед
	// и координатор назначений
	store := database.ChatStore{}
	directory := agents.NewDirectory()
	registry := chat.NewRegistry(store, hub)
	coordinator := chat.NewCoordinator(registry, store, directory, hub)
	handlers.InitWebSocket(hub, registry, coordinator)

	// API эндпоинты
	api := r.Group("/api")
	{
		// Эндпоинт для авторизации админов (публичный)
		api.POST("/auth/login", handlers.Login)

		// Публичные эндпоинты help-чата: виджет гостя работает без JWT
		api.POST("/help-chat/send", handlers.SendHelpMessage)
		api.GET("/help-chat/ws-info", handlers.GetWebSocketInfo)

		// Защищенные маршруты панели поддержки
		authorized := api.Group("/")
		authorized.Use(middleware.AuthMiddleware())
		{
			conversations := authorized.Group("/help-chat/conversations")
			{
				conversations.GET("", handlers.GetConversations)
				conversations.GET("/:guestId", handlers.GetConversationByGuestID)
				conversations.POST("/:guestId/read", handlers.MarkConversationRead)
			}
		}
	}

	// WebSocket эндпоинт
	r.GET("/ws", handlers.ServeWs)

	// Метрики Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Фоновое архивирование неактивных бесед
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	// Запуск сервера
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Сервер запущен на порту :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
}
