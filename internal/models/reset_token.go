package models

import (
	"time"

	"github.com/google/uuid"
)

// ResetToken — токен сброса пароля. У пользователя не больше одной живой записи.
type ResetToken struct {
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired сообщает, что срок действия строго в прошлом относительно now.
func (t *ResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
