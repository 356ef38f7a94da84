package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-sessions/internal/mailer"
	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
)

func TestChangePassword_EarlyFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	uid := uuid.New()

	err := f.svc.ChangePassword(context.Background(), uid, ChangePasswordInput{OldPassword: strongPW, NewPassword: "NewP@ss2", ConfirmPassword: "NewP@ss3"})
	requireKind(t, err, ErrPasswordMismatch, http.StatusBadRequest)

	// Строковое сравнение старого и нового до обращения к хранилищу.
	err = f.svc.ChangePassword(context.Background(), uid, ChangePasswordInput{OldPassword: strongPW, NewPassword: strongPW, ConfirmPassword: strongPW})
	requireKind(t, err, ErrSamePassword, http.StatusBadRequest)

	err = f.svc.ChangePassword(context.Background(), uid, ChangePasswordInput{OldPassword: strongPW, NewPassword: "weak", ConfirmPassword: "weak"})
	requireKind(t, err, ErrValidation, http.StatusBadRequest)
}

func changeInput() ChangePasswordInput {
	return ChangePasswordInput{OldPassword: strongPW, NewPassword: "NewP@ss2", ConfirmPassword: "NewP@ss2"}
}

func TestChangePassword_UserNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.st.EXPECT().UserByID(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)

	err := f.svc.ChangePassword(context.Background(), uuid.New(), changeInput())
	requireKind(t, err, ErrNotFound, http.StatusNotFound)
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, "Other0Password")
	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	err := f.svc.ChangePassword(context.Background(), u.ID, changeInput())
	requireKind(t, err, ErrWrongPassword, http.StatusBadRequest)
}

func TestChangePassword_OK_SendsConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, strongPW)

	var newHash string
	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	f.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, hash string, _ time.Time) error {
			newHash = hash
			return nil
		})
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m mailer.Message) error {
		require.Equal(t, "ada@x.com", m.To)
		require.Equal(t, mailer.TemplatePasswordChanged, m.Template)
		require.Contains(t, m.HTML, "Ada Lovelace")
		return nil
	})

	require.NoError(t, f.svc.ChangePassword(context.Background(), u.ID, changeInput()))

	ok, err := f.hasher.Verify(context.Background(), "NewP@ss2", newHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChangePassword_MailFailureReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, strongPW)

	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	// Пароль сохраняется до отправки и не откатывается.
	f.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("ses throttled"))

	err := f.svc.ChangePassword(context.Background(), u.ID, changeInput())
	requireKind(t, err, ErrDependencyFailure, http.StatusInternalServerError)
}

func TestForgotPassword_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.st.EXPECT().UserByIdentifier(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)

	err := f.svc.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "Ghost"})
	requireKind(t, err, ErrNotFound, http.StatusNotFound)
}

func TestForgotPassword_Empty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.svc.ForgotPassword(context.Background(), ForgotPasswordInput{})
	e := requireKind(t, err, ErrValidation, http.StatusBadRequest)
	require.Equal(t, "Email address is required", e.Message)
}

func TestForgotPassword_OK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, strongPW)

	var rec *models.ResetToken
	f.st.EXPECT().UserByIdentifier(gomock.Any(), "ada").Return(u, nil)
	f.st.EXPECT().UpsertResetToken(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r *models.ResetToken) error {
		rec = r
		return nil
	})

	var sent mailer.Message
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m mailer.Message) error {
		sent = m
		return nil
	})

	require.NoError(t, f.svc.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "ada"}))

	require.Equal(t, u.ID, rec.UserID)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), rec.ExpiresAt, 2*time.Second)
	require.Equal(t, mailer.TemplateResetPassword, sent.Template)
	require.Contains(t, sent.HTML, "http://localhost:3000/reset-password?token=")
	require.Contains(t, sent.HTML, "15 minutes")

	raw := tokenFromMail(t, sent)
	require.Equal(t, rec.TokenHash, storage.HashToken(raw))

	c, err := f.signer.Verify(token.Reset, raw)
	require.NoError(t, err)
	require.Equal(t, u.ID, c.UserID)
}

func TestForgotPassword_MailFailureKeepsLedgerRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, strongPW)

	f.st.EXPECT().UserByIdentifier(gomock.Any(), gomock.Any()).Return(u, nil)
	f.st.EXPECT().UpsertResetToken(gomock.Any(), gomock.Any()).Return(nil)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("ses down"))

	err := f.svc.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "ada"})
	requireKind(t, err, ErrDependencyFailure, http.StatusInternalServerError)
}

func resetInput(raw, pw string) ResetPasswordInput {
	return ResetPasswordInput{Token: raw, NewPassword: pw, ConfirmPassword: pw}
}

func TestResetPassword_Failures(t *testing.T) {
	t.Parallel()

	t.Run("mismatch", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: "t", NewPassword: "NewP@ss2", ConfirmPassword: "NewP@ss3"})
		requireKind(t, err, ErrPasswordMismatch, http.StatusBadRequest)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t)
		f.st.EXPECT().ResetTokenByHash(gomock.Any(), storage.HashToken("t")).Return(nil, storage.ErrNotFound)

		err := f.svc.ResetPassword(context.Background(), resetInput("t", "NewP@ss2"))
		requireKind(t, err, ErrInvalidResetToken, http.StatusBadRequest)
	})

	t.Run("expired row", func(t *testing.T) {
		f := newFixture(t)
		f.st.EXPECT().ResetTokenByHash(gomock.Any(), gomock.Any()).
			Return(&models.ResetToken{UserID: uuid.New(), ExpiresAt: time.Now().Add(-time.Second)}, nil)

		err := f.svc.ResetPassword(context.Background(), resetInput("t", "NewP@ss2"))
		requireKind(t, err, ErrInvalidResetToken, http.StatusBadRequest)
	})

	t.Run("user vanished", func(t *testing.T) {
		f := newFixture(t)
		uid := uuid.New()
		f.st.EXPECT().ResetTokenByHash(gomock.Any(), gomock.Any()).
			Return(&models.ResetToken{UserID: uid, ExpiresAt: time.Now().Add(time.Minute)}, nil)
		f.st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

		err := f.svc.ResetPassword(context.Background(), resetInput("t", "NewP@ss2"))
		requireKind(t, err, ErrNotFound, http.StatusNotFound)
	})

	t.Run("same as current password", func(t *testing.T) {
		f := newFixture(t)
		u := f.user(t, strongPW)
		f.st.EXPECT().ResetTokenByHash(gomock.Any(), gomock.Any()).
			Return(&models.ResetToken{UserID: u.ID, ExpiresAt: time.Now().Add(time.Minute)}, nil)
		f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

		err := f.svc.ResetPassword(context.Background(), resetInput("t", strongPW))
		requireKind(t, err, ErrSamePassword, http.StatusBadRequest)
	})
}

func TestResetPassword_OK_MailBestEffort(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	u := f.user(t, strongPW)

	gomock.InOrder(
		f.st.EXPECT().ResetTokenByHash(gomock.Any(), storage.HashToken("t")).
			Return(&models.ResetToken{UserID: u.ID, ExpiresAt: time.Now().Add(time.Minute)}, nil),
		f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil),
		f.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil),
		f.st.EXPECT().DeleteResetToken(gomock.Any(), u.ID).Return(nil),
	)
	f.mail.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("ses down"))

	require.NoError(t, f.svc.ResetPassword(context.Background(), resetInput("t", "NewP@ss2")))
}

func TestValidateResetToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	uid := uuid.New()

	raw, exp, err := f.signer.Issue(token.Reset, token.Claims{UserID: uid}, time.Minute)
	require.NoError(t, err)

	f.st.EXPECT().ResetTokenByHash(gomock.Any(), storage.HashToken(raw)).
		Return(&models.ResetToken{UserID: uid, TokenHash: storage.HashToken(raw), ExpiresAt: exp}, nil)
	require.NoError(t, f.svc.ValidateResetToken(context.Background(), raw))

	requireKind(t, f.svc.ValidateResetToken(context.Background(), ""), ErrInvalidResetToken, http.StatusBadRequest)

	// Refresh-токен с правильной подписью своего назначения не подходит.
	refresh, _, err := f.signer.Issue(token.Refresh, token.Claims{UserID: uid}, time.Minute)
	require.NoError(t, err)
	requireKind(t, f.svc.ValidateResetToken(context.Background(), refresh), ErrInvalidResetToken, http.StatusBadRequest)
}

func TestPruneExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := time.Now().UTC()

	f.st.EXPECT().DeleteExpiredRefreshTokens(gomock.Any(), before).Return(int64(3), nil)
	f.st.EXPECT().DeleteExpiredResetTokens(gomock.Any(), before).Return(int64(1), nil)

	res, err := f.svc.PruneExpired(context.Background(), before)
	require.NoError(t, err)
	require.Equal(t, PruneResult{RefreshTokens: 3, ResetTokens: 1}, res)

	f.st.EXPECT().DeleteExpiredRefreshTokens(gomock.Any(), before).Return(int64(0), errors.New("db down"))
	_, err = f.svc.PruneExpired(context.Background(), before)
	requireKind(t, err, ErrInternal, http.StatusInternalServerError)
}
