// storage описывает контракты хранилища пользователей и реестров токенов.
// Реализации: postgres (основная), mongo и memory (локальный запуск и тесты).
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/username/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт пользователя; дубликат email или username даёт ErrAlreadyExists.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByIdentifier ищет пользователя, у которого email ИЛИ username равен ident.
	UserByIdentifier(ctx context.Context, ident string) (*models.User, error)
	// UserByEmailOrUsername — одна совмещённая проверка перед регистрацией.
	UserByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	// UpdatePassword заменяет хэш пароля.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error
}

// RefreshTokenStorage — реестр выданных refresh-токенов (только добавление).
type RefreshTokenStorage interface {
	// SaveRefreshToken добавляет запись, существующие записи не трогает.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит запись по хэшу значения токена.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RevokeRefreshToken помечает запись отозванной.
	// (true, nil) — отозвана сейчас; (false, nil) — уже была отозвана; ErrNotFound — нет записи.
	RevokeRefreshToken(ctx context.Context, hash string) (bool, error)
	// DeleteExpiredRefreshTokens удаляет записи с expires_at <= before.
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// ResetTokenStorage — реестр токенов сброса пароля, не больше одной записи на пользователя.
type ResetTokenStorage interface {
	// UpsertResetToken перезаписывает запись пользователя или создаёт новую.
	UpsertResetToken(ctx context.Context, token *models.ResetToken) error
	// ResetTokenByHash находит запись по хэшу значения токена.
	ResetTokenByHash(ctx context.Context, hash string) (*models.ResetToken, error)
	// DeleteResetToken удаляет запись пользователя; отсутствие записи не ошибка.
	DeleteResetToken(ctx context.Context, userID uuid.UUID) error
	// DeleteExpiredResetTokens удаляет записи с expires_at <= before.
	DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error)
}

// Storage задаёт контракт работы с БД.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	ResetTokenStorage
	Ping(ctx context.Context) error
	Close()
}

// HashToken возвращает SHA-256 (base64url без паддинга) от значения токена.
// Реестры хранят только этот хэш.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
