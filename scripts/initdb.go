package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Загружаем переменные окружения из .env файла
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	// Подключаемся к базе данных
	db, err := sql.Open("pgx", buildDSN())
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		log.Fatalf("Ошибка проверки соединения с БД: %v", err)
	}
	log.Println("Успешное подключение к базе данных")

	// Создаем таблицы если они не существуют
	createTables(db)

	// Создаем тестового администратора
	adminID := uuid.New()
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Ошибка хеширования пароля: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO admins (id, name, email, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
	`, adminID, "Администратор", "admin@example.com", string(passwordHash), "admin", true)
	if err != nil {
		log.Fatalf("Ошибка создания тестового администратора: %v", err)
	}
	log.Printf("Создан тестовый администратор с ID: %s", adminID)

	// Создаем тестовые беседы гостей
	guests := []string{"guest-demo-1", "guest-demo-2", "guest-demo-3"}
	now := time.Now()

	for i, guestID := range guests {
		created := now.Add(-time.Duration(i*24) * time.Hour)
		_, err = db.Exec(`
			INSERT INTO conversations (guest_id, is_active, last_message_time, status, created_at)
			VALUES ($1, false, $2, 'active', $3)
			ON CONFLICT (guest_id) DO NOTHING
		`, guestID, created, created)
		if err != nil {
			log.Fatalf("Ошибка создания тестовой беседы %s: %v", guestID, err)
		}
		log.Printf("Создана тестовая беседа для гостя %s", guestID)

		addTestMessages(db, guestID, created)
	}

	log.Println("База данных успешно инициализирована с тестовыми данными")
}

// Создание таблиц базы данных
func createTables(db *sql.DB) {
	// Таблица бесед: ключ - guestId, непрозрачная строка сессии гостя
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			guest_id          TEXT PRIMARY KEY,
			is_active         BOOLEAN NOT NULL DEFAULT false,
			assigned_agent_id TEXT,
			last_message_time TIMESTAMPTZ NOT NULL,
			status            TEXT NOT NULL DEFAULT 'active',
			created_at        TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы conversations: %v", err)
	}

	// Таблица сообщений: seq сохраняет порядок вставки при равных
	// timestamp в пределах миллисекунды
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id        UUID PRIMARY KEY,
			guest_id  TEXT NOT NULL REFERENCES conversations(guest_id),
			content   TEXT NOT NULL,
			sender    TEXT NOT NULL,
			agent_id  TEXT,
			timestamp TIMESTAMPTZ NOT NULL,
			is_auto   BOOLEAN NOT NULL DEFAULT false,
			read      BOOLEAN NOT NULL DEFAULT false,
			seq       BIGSERIAL
		)`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы messages: %v", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_guest_time
		ON messages (guest_id, timestamp, seq)`)
	if err != nil {
		log.Fatalf("Ошибка создания индекса messages: %v", err)
	}

	// Таблица администраторов панели поддержки
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS admins (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar        TEXT,
			role          TEXT NOT NULL DEFAULT 'admin',
			active        BOOLEAN NOT NULL DEFAULT true
		)`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы admins: %v", err)
	}

	log.Println("Таблицы успешно созданы")
}

// addTestMessages добавляет пару сообщений в беседу
func addTestMessages(db *sql.DB, guestID string, start time.Time) {
	messages := []struct {
		content string
		sender  string
	}{
		{"Здравствуйте! Подскажите, как оформить возврат?", "visitor"},
		{"Добрый день! Сейчас помогу, уточните номер заказа.", "admin"},
	}

	for i, m := range messages {
		_, err := db.Exec(`
			INSERT INTO messages (id, guest_id, content, sender, timestamp, is_auto, read)
			VALUES ($1, $2, $3, $4, $5, false, $6)
		`, uuid.New(), guestID, m.content, m.sender, start.Add(time.Duration(i)*time.Minute), m.sender == "admin")
		if err != nil {
			log.Fatalf("Ошибка создания тестового сообщения для %s: %v", guestID, err)
		}
	}
	log.Printf("Добавлены тестовые сообщения в беседу %s", guestID)
}

func buildDSN() string {
	host := env("PG_HOST", "localhost")
	port := env("PG_PORT", "5432")
	user := env("PG_USER", "postgres")
	password := os.Getenv("PG_PASSWORD")
	dbname := env("PG_DATABASE", "helpchat")
	sslmode := env("PG_SSL_MODE", "disable")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
