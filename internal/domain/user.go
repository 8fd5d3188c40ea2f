package domain

import (
	"strings"
	"time"
)

// Role определяет набор разрешённых переходов и операций.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole разбирает имя роли без учёта регистра. Пустое значение означает покупателя.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(RoleUser):
		return RoleUser, true
	case string(RoleAdmin):
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User — запись внешнего сервиса идентификации.
type User struct {
	ID          string
	Email       string
	FullName    string
	PhoneNumber string
	Address     string
	Role        Role
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Actor — вызывающая сторона. Передаётся в каждую операцию явно.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin сообщает, обладает ли актор правами администратора.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ActorFor строит актора по записи пользователя.
func ActorFor(u User) Actor {
	return Actor{UserID: u.ID, Role: u.Role}
}
