package models

import (
	"github.com/google/uuid"
)

// Роли актеров протокола. Админ-класс ролей допускается к подписке на
// беседы и событиям назначения.
const (
	RoleVisitor         = "visitor"
	RoleAdmin           = "admin"
	RoleModerator       = "moderator"
	RoleCustomerService = "customer_service"
)

// IsAdminRole сообщает, относится ли роль к админ-классу.
func IsAdminRole(role string) bool {
	switch role {
	case RoleAdmin, RoleModerator, RoleCustomerService:
		return true
	}
	return false
}

// SupportAgent представляет собой агента поддержки. Справочные данные,
// принадлежат внешнему каталогу агентов; протокол читает их по id и
// никогда не изменяет.
type SupportAgent struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	IsActive  bool    `json:"isActive"`
}

// Admin представляет собой администратора панели поддержки
type Admin struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Avatar       *string   `json:"avatar,omitempty"`
	Role         string    `json:"role"` // "admin", "moderator", "customer_service"
	Active       bool      `json:"active"`
}
