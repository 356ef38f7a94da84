package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/handlers"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/middleware"
)

// BasePath — префикс всех маршрутов API.
const BasePath = "/api/v1"

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger    *slog.Logger
	Env       string
	Timeout   time.Duration
	ClientURL string
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
}

// NewRouter собирает http.Handler API с chi, мидлварами и маршрутами.
func NewRouter(svc handlers.Service, opts Options) (http.Handler, error) {
	const op = "transport.http.NewRouter"

	jar, err := cookies.New(opts.ClientURL, opts.Auth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	origins, err := allowedOrigins(opts.ClientURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	root := chi.NewRouter()

	// За прокси адрес клиента берётся из X-Forwarded-For/X-Real-IP.
	if opts.Env != config.EnvLocal {
		root.Use(chimw.RealIP)
	}

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logging(opts.Logger),
		chimw.SetHeader("X-Content-Type-Options", "nosniff"),
		chimw.SetHeader("X-Frame-Options", "SAMEORIGIN"),
		cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.Timeout(opts.Timeout),
	)

	// Общий лимитер не мешает локальной разработке.
	if opts.Env != config.EnvLocal {
		rl := opts.RateLimit
		root.Use(middleware.RateLimit(middleware.NewLimiter("general", rl.GeneralRPS, rl.GeneralBurst, rl.IdleTTL)))
	}

	h := handlers.New(svc, jar, opts.Env)

	root.NotFound(handlers.NotFound)
	root.MethodNotAllowed(handlers.MethodNotAllowed)

	root.Route(BasePath, func(r chi.Router) {
		r.NotFound(handlers.NotFound)
		r.MethodNotAllowed(handlers.MethodNotAllowed)
		registerRoutes(r, h, svc, jar, opts.RateLimit)
	})

	return root, nil
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, svc handlers.Service, jar *cookies.Jar, rl config.RateLimitConfig) {
	r.Get("/", h.Welcome)
	r.Get("/self", h.Self)
	r.Get("/health", h.Health)

	// auth: отдельный строгий лимитер на вход и обновление сессий.
	login := middleware.NewLimiter("login", rl.LoginRPS, rl.LoginBurst, rl.IdleTTL)
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(login))

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Put("/logout", h.Logout)
		r.Get("/refresh-token", h.RefreshToken)
		r.Get("/refresh-session", h.RefreshSession)
	})

	// pass
	r.Route("/pass", func(r chi.Router) {
		r.With(middleware.Authenticate(svc, jar)).Post("/change", h.ChangePassword)
		r.Post("/forgot", h.ForgotPassword)
		r.With(middleware.ResetTokenVerifier(svc)).Get("/isTokenValid", h.IsResetTokenValid)
		r.With(middleware.ResetTokenVerifier(svc)).Post("/reset", h.ResetPassword)
	})
}

// allowedOrigins — адрес клиента и его www-вариант.
func allowedOrigins(clientURL string) ([]string, error) {
	u, err := url.Parse(clientURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client url %q must be absolute", clientURL)
	}

	origin := u.Scheme + "://" + u.Host
	return []string{origin, "https://www." + u.Host}, nil
}
