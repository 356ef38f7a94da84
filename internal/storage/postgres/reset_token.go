package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
)

// UpsertResetToken перезаписывает токен пользователя (PRIMARY KEY user_id) или создаёт запись.
func (s *Storage) UpsertResetToken(ctx context.Context, token *models.ResetToken) error {
	const op = "storage.postgres.UpsertResetToken"

	query := `
		INSERT INTO user_otps(user_id, token_hash, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query, token.UserID, token.TokenHash, token.ExpiresAt, token.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetTokenByHash находит запись по хэшу токена.
func (s *Storage) ResetTokenByHash(ctx context.Context, hash string) (*models.ResetToken, error) {
	const op = "storage.postgres.ResetTokenByHash"

	query := `
		SELECT user_id, token_hash, expires_at, updated_at
		FROM user_otps
		WHERE token_hash = $1
	`

	var t models.ResetToken
	err := s.db.QueryRow(ctx, query, hash).Scan(&t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	return &t, nil
}

// DeleteResetToken удаляет запись пользователя.
func (s *Storage) DeleteResetToken(ctx context.Context, userID uuid.UUID) error {
	const op = "storage.postgres.DeleteResetToken"

	if _, err := s.db.Exec(ctx, `DELETE FROM user_otps WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpiredResetTokens удаляет записи с expires_at <= before.
func (s *Storage) DeleteExpiredResetTokens(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredResetTokens"

	tag, err := s.db.Exec(ctx, `DELETE FROM user_otps WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
