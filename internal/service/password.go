package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/redact"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
)

const mailFailedMessage = "Failed to send e-mail, please try again later"

// ChangePassword меняет пароль аутентифицированного пользователя и отправляет
// письмо-подтверждение. Ошибка отправки даёт 500, хотя пароль уже изменён.
// Выданные сессии не отзываются.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, in ChangePasswordInput) (err error) {
	const op = "service.password.ChangePassword"
	defer func() { observe("change_password", err) }()

	if fields := Validate(in); fields != nil {
		return fmt.Errorf("%s: %w", op, validationError(fields))
	}
	if in.NewPassword != in.ConfirmPassword {
		return fmt.Errorf("%s: %w", op, newError(ErrPasswordMismatch, nil))
	}
	if in.OldPassword == in.NewPassword {
		return fmt.Errorf("%s: %w", op, newError(ErrSamePassword, nil))
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, newError(ErrNotFound, err))
		}
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	ok, err := s.hasher.Verify(ctx, in.OldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, newError(ErrWrongPassword, nil))
	}

	if err := s.setPassword(ctx, user, in.NewPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.notifyPasswordChanged(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ForgotPassword выпускает токен сброса, перезаписывает запись реестра
// пользователя (последний запрос побеждает) и отправляет ссылку на почту.
// identifier — email или username. Запись реестра при ошибке отправки остаётся.
func (s *Service) ForgotPassword(ctx context.Context, in ForgotPasswordInput) (err error) {
	const op = "service.password.ForgotPassword"
	defer func() { observe("forgot_password", err) }()

	if fields := Validate(in); fields != nil {
		return fmt.Errorf("%s: %w", op, validationError(fields).withMessage("Email address is required"))
	}

	user, err := s.storage.UserByIdentifier(ctx, normalize(in.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, newError(ErrNotFound, err))
		}
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	ttl := s.cfg.ResetPasswordTokenExpiry.Duration()
	raw, exp, err := s.signer.Issue(token.Reset, token.Claims{UserID: user.ID}, ttl)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	rec := &models.ResetToken{
		UserID:    user.ID,
		TokenHash: storage.HashToken(raw),
		ExpiresAt: exp,
		UpdatedAt: s.now(),
	}
	if err := s.storage.UpsertResetToken(ctx, rec); err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	msg, err := s.composer.ResetPassword(user.Email, user.FullName(), raw, ttl)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err).withMessage(mailFailedMessage))
	}

	log.From(ctx).Info("reset_link_sent",
		slog.String("user_id", user.ID.String()),
		slog.String("to", redact.Email(user.Email)),
	)

	return nil
}

// ResetPassword устанавливает новый пароль по токену сброса.
// Токен одноразовый: запись реестра удаляется после успеха.
// Повтор текущего пароля проверяется по хэшу. Письмо-подтверждение
// отправляется без влияния на результат.
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) (err error) {
	const op = "service.password.ResetPassword"
	defer func() { observe("reset_password", err) }()

	if fields := Validate(in); fields != nil {
		return fmt.Errorf("%s: %w", op, validationError(fields))
	}
	if in.NewPassword != in.ConfirmPassword {
		return fmt.Errorf("%s: %w", op, newError(ErrPasswordMismatch, nil))
	}

	rec, err := s.resetRecord(ctx, in.Token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, newError(ErrNotFound, err))
		}
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	same, err := s.hasher.Verify(ctx, in.NewPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
	}
	if same {
		return fmt.Errorf("%s: %w", op, newError(ErrSamePassword, nil))
	}

	if err := s.setPassword(ctx, user, in.NewPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeleteResetToken(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	if err := s.notifyPasswordChanged(ctx, user); err != nil {
		log.From(ctx).Warn("password_reset_mail_failed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
			slog.String("err", err.Error()),
		)
	}

	return nil
}

// ValidateResetToken проверяет ссылку сброса до показа формы:
// подпись и срок токена, затем наличие действующей записи реестра.
func (s *Service) ValidateResetToken(ctx context.Context, raw string) (err error) {
	const op = "service.password.ValidateResetToken"
	defer func() { observe("validate_reset_token", err) }()

	if raw == "" {
		return fmt.Errorf("%s: %w", op, newError(ErrInvalidResetToken, nil).withMessage("Token is required"))
	}

	if _, err := s.signer.Verify(token.Reset, raw); err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInvalidResetToken, err))
	}

	if _, err := s.resetRecord(ctx, raw); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// resetRecord находит запись реестра сброса. Нет записи или её срок прошёл
// (now строго позже expires_at) -> ErrInvalidResetToken.
func (s *Service) resetRecord(ctx context.Context, raw string) (*models.ResetToken, error) {
	const op = "service.password.resetRecord"

	rec, err := s.storage.ResetTokenByHash(ctx, storage.HashToken(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, newError(ErrInvalidResetToken, err))
		}
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	if rec.Expired(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, newError(ErrInvalidResetToken, errors.New("reset token expired")))
	}

	return rec, nil
}

// setPassword хэширует и сохраняет новый пароль.
func (s *Service) setPassword(ctx context.Context, user *models.User, plain string) error {
	const op = "service.password.setPassword"

	hash, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err))
	}

	now := s.now()
	if err := s.storage.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, newError(ErrNotFound, err))
		}
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	user.PasswordHash, user.UpdatedAt = hash, now

	return nil
}

func (s *Service) notifyPasswordChanged(ctx context.Context, user *models.User) error {
	const op = "service.password.notifyPasswordChanged"

	msg, err := s.composer.PasswordChanged(user.Email, user.FullName(), user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, newError(ErrDependencyFailure, err).withMessage(mailFailedMessage))
	}

	return nil
}
