// memory — потокобезопасная реализация storage.Storage в памяти процесса.
// Используется при DB_DRIVER=memory и в сценарных тестах сервиса.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

type Storage struct {
	mu sync.RWMutex

	users      map[uuid.UUID]models.User
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID

	refresh map[string]models.RefreshToken // по хэшу

	reset       map[uuid.UUID]models.ResetToken // по пользователю
	resetByHash map[string]uuid.UUID
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:       make(map[uuid.UUID]models.User),
		byEmail:     make(map[string]uuid.UUID),
		byUsername:  make(map[string]uuid.UUID),
		refresh:     make(map[string]models.RefreshToken),
		reset:       make(map[uuid.UUID]models.ResetToken),
		resetByHash: make(map[string]uuid.UUID),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// SaveUser создаёт пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email, username := fold(user.Email), fold(user.Username)
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byUsername[username]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.users[user.ID] = *user
	s.byEmail[email] = user.ID
	s.byUsername[username] = user.ID

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &u, nil
}

// UserByIdentifier ищет по email или username.
func (s *Storage) UserByIdentifier(ctx context.Context, ident string) (*models.User, error) {
	const op = "storage.memory.UserByIdentifier"

	u, err := s.UserByEmailOrUsername(ctx, ident, ident)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByEmailOrUsername возвращает первого пользователя, совпавшего по email или username.
func (s *Storage) UserByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	const op = "storage.memory.UserByEmailOrUsername"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[fold(email)]
	if !ok {
		id, ok = s.byUsername[fold(username)]
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u := s.users[id]
	return &u, nil
}

// UpdatePassword заменяет хэш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	const op = "storage.memory.UpdatePassword"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	u.PasswordHash = hash
	u.UpdatedAt = updatedAt
	s.users[id] = u

	return nil
}

// SetActive меняет флаг активности. Нужен для локальной отладки и тестов.
func (s *Storage) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		u.IsActive = active
		s.users[id] = u
	}
}

// SaveRefreshToken добавляет запись реестра.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refresh[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	s.refresh[token.TokenHash] = *token

	return nil
}

// RefreshTokenByHash находит запись по хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByHash"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refresh[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &t, nil
}

// RevokeRefreshToken помечает запись отозванной.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[hash]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if t.Revoked {
		return false, nil
	}

	t.Revoked = true
	s.refresh[hash] = t

	return true, nil
}

// DeleteExpiredRefreshTokens удаляет записи с expires_at <= before.
func (s *Storage) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.memory.DeleteExpiredRefreshTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.refresh {
		if !t.ExpiresAt.After(before) {
			delete(s.refresh, hash)
			n++
		}
	}

	return n, nil
}

// RefreshTokenCount — число записей реестра (для тестов).
func (s *Storage) RefreshTokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.refresh)
}

// UpsertResetToken перезаписывает запись пользователя или создаёт новую.
func (s *Storage) UpsertResetToken(ctx context.Context, token *models.ResetToken) error {
	const op = "storage.memory.UpsertResetToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.resetByHash[token.TokenHash]; ok && owner != token.UserID {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	if prev, ok := s.reset[token.UserID]; ok {
		delete(s.resetByHash, prev.TokenHash)
	}

	s.reset[token.UserID] = *token
	s.resetByHash[token.TokenHash] = token.UserID

	return nil
}

// ResetTokenByHash находит запись по хэшу.
func (s *Storage) ResetTokenByHash(ctx context.Context, hash string) (*models.ResetToken, error) {
	const op = "storage.memory.ResetTokenByHash"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uid, ok := s.resetByHash[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	t := s.reset[uid]
	return &t, nil
}

// DeleteResetToken удаляет запись пользователя.
func (s *Storage) DeleteResetToken(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.memory.DeleteResetToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.reset[userID]; ok {
		delete(s.resetByHash, t.TokenHash)
		delete(s.reset, userID)
	}

	return nil
}

// DeleteExpiredResetTokens удаляет записи с expires_at <= before.
func (s *Storage) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.memory.DeleteExpiredResetTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for uid, t := range s.reset {
		if !t.ExpiresAt.After(before) {
			delete(s.resetByHash, t.TokenHash)
			delete(s.reset, uid)
			n++
		}
	}

	return n, nil
}

// ResetTokenCount — число записей реестра сброса (для тестов).
func (s *Storage) ResetTokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.reset)
}

// Ping всегда успешен.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close ничего не освобождает.
func (s *Storage) Close() {}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
