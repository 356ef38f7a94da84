package middleware

import (
	"net/http"

	"github.com/google/uuid"

	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
)

const headerRequestID = "X-Request-Id"

// RequestID обеспечивает наличие X-Request-Id: берёт входящий заголовок или
// генерирует новый, возвращает его в ответе и кладёт в контекст.
// Ставится до Logging.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
				r.Header.Set(headerRequestID, id)
			}
			w.Header().Set(headerRequestID, id)

			ctx := logctx.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
