package models

import "time"

// Session — результат регистрации/входа: профиль и пара токенов.
type Session struct {
	User             UserProfile
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RememberMe       bool
}

// AccessGrant — результат обновления access-токена по refresh-токену.
// User заполняется только в RefreshSession.
type AccessGrant struct {
	AccessToken     string
	AccessExpiresAt time.Time
	User            *UserProfile
}
