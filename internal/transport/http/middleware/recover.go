package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

var errPanic = errors.New("panic recovered")

// Recover перехватывает panic и отвечает 500 без деталей.
// http.ErrAbortHandler пробрасывается дальше, как того ждёт net/http.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelError, "panic",
					slog.String("path", r.URL.Path),
					slog.Any("reason", rec),
					slog.String("stack", string(debug.Stack())),
				)
				response.Error(w, r, errPanic)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
