// Package scheduler запускает фоновые задачи сервера по расписанию.
package scheduler

import (
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/egor/helpchatserver/database"
)

// Scheduler оборачивает cron с задачами обслуживания бесед
type Scheduler struct {
	cron *cron.Cron
}

// New создает планировщик с задачей архивирования неактивных бесед.
// Расписание берется из ARCHIVE_SCHEDULE (cron-выражение, по умолчанию
// каждые 10 минут), порог неактивности из ARCHIVE_IDLE_AFTER
// (duration, по умолчанию 24h).
func New() *Scheduler {
	schedule := os.Getenv("ARCHIVE_SCHEDULE")
	if schedule == "" {
		schedule = "*/10 * * * *"
	}

	idle := 24 * time.Hour
	if v := os.Getenv("ARCHIVE_IDLE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			idle = d
		} else {
			log.Printf("Scheduler: некорректный ARCHIVE_IDLE_AFTER %q, используется 24h", v)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { archiveIdle(idle) }); err != nil {
		log.Printf("Scheduler: некорректное расписание %q: %v", schedule, err)
	}

	return &Scheduler{cron: c}
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("Scheduler: фоновые задачи запущены")
}

// Stop останавливает планировщик, дожидаясь текущих задач
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Scheduler: фоновые задачи остановлены")
}

// archiveIdle архивирует беседы без активности дольше idle
func archiveIdle(idle time.Duration) {
	n, err := database.ArchiveIdleConversations(idle)
	if err != nil {
		log.Printf("archiveIdle: ошибка архивирования бесед: %v", err)
		return
	}
	if n > 0 {
		log.Printf("archiveIdle: заархивировано бесед: %d", n)
	}
}
