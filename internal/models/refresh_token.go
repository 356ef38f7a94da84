package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — запись реестра выданных refresh-токенов.
//
// Описание:
//   - TokenHash — SHA-256 (base64url) от значения токена, само значение не хранится;
//   - UserID может быть пустым (Valid=false) для служебных токенов;
//   - запись не изменяется после создания, кроме флага Revoked при logout.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.NullUUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// Expired сообщает, истёк ли токен к моменту now (expiresAt <= now).
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
