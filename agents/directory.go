// Package agents - клиент внешнего каталога агентов поддержки.
// Каталог принадлежит платформе; протокол читает профили по id и
// никогда их не изменяет.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/egor/helpchatserver/models"
)

const defaultCacheTTL = time.Minute

// Directory представляет клиента каталога агентов поддержки.
// Справочные данные почти не меняются, поэтому ответы кэшируются
// в памяти на короткий TTL.
type Directory struct {
	apiURL string
	client *http.Client

	mu    sync.RWMutex
	cache map[string]cachedAgent
	ttl   time.Duration
}

type cachedAgent struct {
	agent   *models.SupportAgent
	expires time.Time
}

// NewDirectory создает нового клиента каталога.
// Настраивается URL из AGENT_DIRECTORY_URL и таймаут из
// AGENT_DIRECTORY_TIMEOUT или по умолчанию 10s.
func NewDirectory() *Directory {
	apiURL := os.Getenv("AGENT_DIRECTORY_URL")
	if apiURL == "" {
		apiURL = "http://localhost:4000/api"
	}

	timeout := 10 * time.Second
	if t := os.Getenv("AGENT_DIRECTORY_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Directory{
		apiURL: apiURL,
		client: &http.Client{Timeout: timeout},
		cache:  make(map[string]cachedAgent),
		ttl:    defaultCacheTTL,
	}
}

// Agent возвращает агента по id; (nil, nil) если агент не найден.
func (d *Directory) Agent(ctx context.Context, id string) (*models.SupportAgent, error) {
	d.mu.RLock()
	entry, ok := d.cache[id]
	d.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.agent, nil
	}

	endpoint := fmt.Sprintf("%s/agents/%s", d.apiURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		d.put(id, nil)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent directory error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var agent models.SupportAgent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	d.put(id, &agent)
	return &agent, nil
}

// ActiveAgents возвращает активных агентов для автоназначения.
// Список не кэшируется: он нужен только в момент join.
func (d *Directory) ActiveAgents(ctx context.Context) ([]models.SupportAgent, error) {
	endpoint := fmt.Sprintf("%s/agents?active=true", d.apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent directory error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var agents []models.SupportAgent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return agents, nil
}

func (d *Directory) put(id string, agent *models.SupportAgent) {
	d.mu.Lock()
	d.cache[id] = cachedAgent{agent: agent, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()
}
