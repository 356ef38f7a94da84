package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

// normalize приводит email/username к виду, в котором они хранятся.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register создаёт пользователя и сразу выдаёт ему сессию.
// Занятый email или username (одна совмещённая проверка) -> ErrAlreadyExists.
// Гонка двух регистраций ловится уникальными индексами хранилища.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *models.Session, err error) {
	const op = "service.auth.Register"
	defer func() { observe("register", err) }()

	if fields := Validate(in); fields != nil {
		return nil, fmt.Errorf("%s: %w", op, validationError(fields))
	}

	email, username := normalize(in.Email), normalize(in.Username)

	_, err = s.storage.UserByEmailOrUsername(ctx, email, username)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s: %w", op, newError(ErrAlreadyExists, nil))
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New(),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, newError(ErrAlreadyExists, err))
		}
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	sess, err := s.issueSession(ctx, user, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered", slog.String("user_id", user.ID.String()))

	return sess, nil
}

// Login проверяет учётные данные и выдаёт сессию.
// Отсутствие пользователя и неверный пароль неразличимы для клиента.
// Неактивный пользователь получает ErrLoginRestricted до проверки пароля.
func (s *Service) Login(ctx context.Context, in LoginInput) (_ *models.Session, err error) {
	const op = "service.auth.Login"
	defer func() { observe("login", err) }()

	if fields := Validate(in); fields != nil {
		return nil, fmt.Errorf("%s: %w", op, validationError(fields))
	}

	user, err := s.storage.UserByEmailOrUsername(ctx, normalize(in.Email), normalize(in.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Info("login_failed",
				slog.String("ident", redact.Identifier(in.identifier())),
				slog.String("reason", "unknown_user"),
			)
			return nil, fmt.Errorf("%s: %w", op, newError(ErrInvalidCredentials, err))
		}
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	if !user.IsActive {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrLoginRestricted, nil))
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
	}
	if !ok {
		log.From(ctx).Info("login_failed",
			slog.String("user_id", user.ID.String()),
			slog.String("reason", "wrong_password"),
		)
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInvalidCredentials, nil))
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehashPassword(ctx, user, in.Password)
	}

	sess, err := s.issueSession(ctx, user, in.RememberMe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

// rehashPassword переводит хэш пароля на текущие параметры argon2id.
// Ошибки только логируются: вход от них не зависит.
func (s *Service) rehashPassword(ctx context.Context, user *models.User, plain string) {
	const op = "service.auth.rehashPassword"

	hash, err := s.hasher.Hash(ctx, plain)
	if err == nil {
		err = s.storage.UpdatePassword(ctx, user.ID, hash, s.now())
	}
	if err != nil {
		log.From(ctx).Warn("password_rehash_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
		return
	}

	user.PasswordHash = hash
	log.From(ctx).Info("password_rehashed", slog.String("user_id", user.ID.String()))
}

// RefreshAccessToken выпускает новый access-токен по действующему refresh-токену.
// Сам refresh-токен не ротируется и живёт до своего срока.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (_ *models.AccessGrant, err error) {
	const op = "service.auth.RefreshAccessToken"
	defer func() { observe("refresh_access_token", err) }()

	claims, err := s.validateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// email в access-токен попадает только вместе с профилем (RefreshSession).
	access, exp, err := s.issueAccess(&models.User{ID: claims.UserID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.AccessGrant{AccessToken: access, AccessExpiresAt: exp}, nil
}

// RefreshSession как RefreshAccessToken, но дополнительно перечитывает
// пользователя и возвращает свежий профиль.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (_ *models.AccessGrant, err error) {
	const op = "service.auth.RefreshSession"
	defer func() { observe("refresh_session", err) }()

	claims, err := s.validateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, newError(ErrNotFound, err))
		}
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	access, exp, err := s.issueAccess(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	profile := user.Profile()
	return &models.AccessGrant{AccessToken: access, AccessExpiresAt: exp, User: &profile}, nil
}

// Logout отзывает запись реестра, соответствующую refresh-токену.
// Пустой токен означает, что клиент уже вышел: реестр не трогаем.
// Запись не удаляется, остаётся для аудита с revoked=true.
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	const op = "service.auth.Logout"
	defer func() { observe("logout", err) }()

	if refreshToken == "" {
		return nil
	}

	hash := storage.HashToken(refreshToken)

	if _, err := s.storage.RevokeRefreshToken(ctx, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, newError(ErrNotFound, err).withMessage("Session not found"))
		}
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	// Кэш отзывается всегда, даже если строка уже была отозвана.
	if s.rcache != nil {
		if err := s.rcache.Revoke(ctx, hash, s.maxRefreshTTL()); err != nil {
			metrics.RefreshCacheLookups.WithLabelValues("error").Inc()
			log.From(ctx).Error("refresh_cache_revoke_failed", slog.String("op", op), slog.String("err", err.Error()))
			return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
		}
	}

	return nil
}
