package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

// AccessValidator проверяет access-токен (service.Service).
type AccessValidator interface {
	ValidateAccessToken(ctx context.Context, raw string) (uuid.UUID, string, error)
}

// ResetValidator проверяет токен сброса пароля (service.Service).
type ResetValidator interface {
	ValidateResetToken(ctx context.Context, raw string) error
}

type principalKey struct{}

// Principal — аутентифицированный пользователь запроса.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// PrincipalFrom возвращает пользователя, положенного Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// WithPrincipal кладёт пользователя в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// bearer извлекает токен из "Authorization: Bearer <token>".
func bearer(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// Authenticate требует валидный access-токен из cookie accessToken
// (или заголовка Authorization: Bearer). При неудаче access-cookie
// очищается и клиент получает 401.
func Authenticate(v AccessValidator, jar *cookies.Jar) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := cookies.Access(r)
			if raw == "" {
				raw = bearer(r)
			}

			userID, email, err := v.ValidateAccessToken(r.Context(), raw)
			if err != nil {
				jar.ClearAccess(w)
				response.Error(w, r, err)
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{UserID: userID, Email: email})
			ctx = logctx.Into(ctx, logctx.From(ctx).With("user_id", userID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResetTokenVerifier пропускает запрос дальше, только если ?token= —
// действующий токен сброса пароля с актуальной записью в реестре.
func ResetTokenVerifier(v ResetValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.ValidateResetToken(r.Context(), r.URL.Query().Get("token")); err != nil {
				response.Error(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
