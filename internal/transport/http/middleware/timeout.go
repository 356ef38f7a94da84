package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

// Timeout ограничивает обработку запроса сроком d (уже заданный дедлайн
// не продлевается). Если срок истёк, а обработчик ничего не записал,
// клиент получает 503 в общем формате ответа. d <= 0 выключает мидлвар.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if _, has := ctx.Deadline(); !has {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
				r = r.WithContext(ctx)
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			if sw.status == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				response.Status(w, r, http.StatusServiceUnavailable, "timeout", "Request timed out, please try again later")
			}
		})
	}
}
