package domain

import "strings"

// UserRole описывает права пользователя.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// ParseRole приводит роль из заголовка или БД к известному значению.
// Неизвестные значения считаются обычным пользователем.
func ParseRole(raw string) UserRole {
	switch UserRole(strings.ToLower(strings.TrimSpace(raw))) {
	case UserRoleAdmin:
		return UserRoleAdmin
	default:
		return UserRoleUser
	}
}

// CanReprocess сообщает, может ли роль повторно отправить пост на модерацию.
func (r UserRole) CanReprocess() bool {
	return r == UserRoleAdmin
}

// CanManageUsers сообщает, может ли роль просматривать и удалять пользователей.
func (r UserRole) CanManageUsers() bool {
	return r == UserRoleAdmin
}

// IsAdmin проверяет права администратора.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
