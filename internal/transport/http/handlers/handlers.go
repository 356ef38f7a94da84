// handlers — REST-обработчики /api/v1: auth, pass и служебные маршруты.
// Обработчики только разбирают запрос, вызывают Service и выставляют cookie;
// статусы и сообщения ошибок приходят из service.Error.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

// Service — операции менеджера сессий, нужные REST-слою (service.Service).
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.Session, error)
	Login(ctx context.Context, in service.LoginInput) (*models.Session, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*models.AccessGrant, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.AccessGrant, error)
	Logout(ctx context.Context, refreshToken string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, in service.ChangePasswordInput) error
	ForgotPassword(ctx context.Context, in service.ForgotPasswordInput) error
	ResetPassword(ctx context.Context, in service.ResetPasswordInput) error
	ValidateResetToken(ctx context.Context, raw string) error
	ValidateAccessToken(ctx context.Context, raw string) (uuid.UUID, string, error)
	Ping(ctx context.Context) error
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	svc     Service
	jar     *cookies.Jar
	env     string
	started time.Time
}

// New создаёт обработчики. env попадает в ответ /health.
func New(svc Service, jar *cookies.Jar, env string) *Handlers {
	return &Handlers{
		svc:     svc,
		jar:     jar,
		env:     env,
		started: time.Now(),
	}
}

// badBody — ответ на тело, которое не разбирается как JSON.
func badBody(w http.ResponseWriter, r *http.Request) {
	response.Status(w, r, http.StatusBadRequest, "validation", "Invalid request body")
}

// NotFound — ответ на неизвестный маршрут.
func NotFound(w http.ResponseWriter, r *http.Request) {
	response.Status(w, r, http.StatusNotFound, "not_found", "Route not found")
}

// MethodNotAllowed — ответ на неподдерживаемый метод.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response.Status(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}
