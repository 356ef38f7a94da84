package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/cache"
	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
)

// refreshTTL выбирает срок refresh-токена по флагу remember-me.
func (s *Service) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RefreshTokenRememberExpiry.Duration()
	}

	return s.cfg.RefreshTokenExpiry.Duration()
}

// maxRefreshTTL — наибольший возможный срок жизни refresh-токена.
func (s *Service) maxRefreshTTL() time.Duration {
	return max(s.refreshTTL(true), s.refreshTTL(false))
}

// issueAccess выпускает access-токен с email пользователя.
func (s *Service) issueAccess(u *models.User) (string, time.Time, error) {
	const op = "service.token.issueAccess"

	raw, exp, err := s.signer.Issue(token.Access, token.Claims{UserID: u.ID, Email: u.Email}, s.cfg.AccessTokenExpiry.Duration())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	return raw, exp, nil
}

// issueSession выпускает пару токенов и добавляет строку в реестр refresh-токенов.
func (s *Service) issueSession(ctx context.Context, u *models.User, rememberMe bool) (*models.Session, error) {
	const op = "service.token.issueSession"

	access, accessExp, err := s.issueAccess(u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, refreshExp, err := s.signer.Issue(token.Refresh, token.Claims{UserID: u.ID}, s.refreshTTL(rememberMe))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	rec := &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.NullUUID{UUID: u.ID, Valid: true},
		TokenHash: storage.HashToken(refresh),
		ExpiresAt: refreshExp,
		CreatedAt: s.now(),
	}
	if err := s.storage.SaveRefreshToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	s.cacheRefresh(ctx, rec.TokenHash, cache.EntryFromToken(rec))

	return &models.Session{
		User:             u.Profile(),
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RememberMe:       rememberMe,
	}, nil
}

// validateRefreshToken проверяет подпись и срок токена, затем запись реестра:
// она должна существовать, не быть отозванной и не истечь.
func (s *Service) validateRefreshToken(ctx context.Context, raw string) (*token.Claims, error) {
	const op = "service.token.validateRefreshToken"

	if raw == "" {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrUnauthenticated, nil))
	}

	claims, err := s.signer.Verify(token.Refresh, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, err))
	}

	entry, err := s.refreshEntry(ctx, storage.HashToken(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, err))
		}
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	switch {
	case entry.Revoked:
		return nil, fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, errors.New("refresh token revoked")))
	case entry.Expired(s.now()):
		return nil, fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, errors.New("refresh token expired")))
	case entry.UserID.Valid && entry.UserID.UUID != claims.UserID:
		return nil, fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, errors.New("refresh token owner mismatch")))
	}

	return claims, nil
}

// refreshEntry читает запись реестра: сначала кэш, затем хранилище.
// Ошибки кэша не прерывают запрос.
func (s *Service) refreshEntry(ctx context.Context, hash string) (*cache.RefreshEntry, error) {
	const op = "service.token.refreshEntry"

	if s.rcache != nil {
		entry, ok, err := s.rcache.Get(ctx, hash)
		switch {
		case err != nil:
			metrics.RefreshCacheLookups.WithLabelValues("error").Inc()
			log.From(ctx).Warn("refresh_cache_get_failed", slog.String("op", op), slog.String("err", err.Error()))
		case ok:
			metrics.RefreshCacheLookups.WithLabelValues("hit").Inc()
			return entry, nil
		default:
			metrics.RefreshCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	rec, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := cache.EntryFromToken(rec)
	s.cacheRefresh(ctx, hash, entry)

	return entry, nil
}

func (s *Service) cacheRefresh(ctx context.Context, hash string, e *cache.RefreshEntry) {
	const op = "service.token.cacheRefresh"

	if s.rcache == nil {
		return
	}

	if err := s.rcache.Add(ctx, hash, e, e.ExpiresAt.Sub(s.now())); err != nil {
		log.From(ctx).Warn("refresh_cache_set_failed", slog.String("op", op), slog.String("err", err.Error()))
	}
}

// ValidateAccessToken проверяет access-токен и возвращает ID и email пользователя.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (uuid.UUID, string, error) {
	const op = "service.token.ValidateAccessToken"

	if raw == "" {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, newError(ErrUnauthenticated, nil).withMessage("Unauthorized"))
	}

	claims, err := s.signer.Verify(token.Access, raw)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%s: %w", op, newError(ErrTokenInvalid, err))
	}

	return claims.UserID, claims.Email, nil
}
