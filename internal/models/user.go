package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись пользователя.
// Email и Username хранятся в нижнем регистре, уникальность регистронезависимая.
type User struct {
	ID           uuid.UUID
	FirstName    string
	LastName     string
	Username     string
	Email        string
	PasswordHash string
	// IsActive=false запрещает вход независимо от пароля.
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile — публичная проекция пользователя, отдаётся клиенту.
type UserProfile struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
}

// Profile возвращает проекцию без хэша пароля и служебных полей.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Email:     u.Email,
	}
}

// FullName — имя для писем.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}
