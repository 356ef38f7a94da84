// service — менеджер сессий: регистрация, вход, обновление access-токена,
// выход и восстановление пароля поверх хранилища, хэшера, подписчика токенов
// и почты.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования, если безопасны переданные зависимости.
//   - Любая ошибка операции содержит *Error (см. AsError): вид, HTTP-статус
//     и сообщение для клиента. Транспорт не разбирает причины сам.
//   - Реестры хранят только SHA-256 от значений токенов (storage.HashToken).
package service

import (
	"context"
	"time"

	"github.com/pribylovaa/go-auth-sessions/internal/cache"
	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/mailer"
	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
)

// PasswordHasher — хэширование и проверка паролей (hasher.Hasher).
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
}

// TokenSigner — выпуск и проверка подписанных токенов (token.Signer).
type TokenSigner interface {
	Issue(purpose token.Purpose, c token.Claims, ttl time.Duration) (string, time.Time, error)
	Verify(purpose token.Purpose, raw string) (*token.Claims, error)
}

// Service описывает бизнес-логику менеджера сессий.
type Service struct {
	storage  storage.Storage
	hasher   PasswordHasher
	signer   TokenSigner
	composer *mailer.Composer
	sender   mailer.Sender
	cfg      config.AuthConfig
	rcache   cache.RefreshCache // может быть nil, если кэш не сконфигурирован
	now      func() time.Time
}

// New создаёт новый экземпляр Service.
func New(
	st storage.Storage,
	h PasswordHasher,
	signer TokenSigner,
	composer *mailer.Composer,
	sender mailer.Sender,
	cfg config.AuthConfig,
) *Service {
	return &Service{
		storage:  st,
		hasher:   h,
		signer:   signer,
		composer: composer,
		sender:   sender,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRefreshCache устанавливает кэш реестра refresh-токенов (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

// Ping проверяет доступность хранилища (readiness).
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

func observe(op string, err error) {
	if err == nil {
		metrics.ObserveOperation(op, metrics.ResultOK)
		return
	}

	metrics.ObserveOperation(op, label(err))
}
