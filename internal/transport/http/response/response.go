// response формирует единый JSON-конверт ответов REST API:
//
//	{"success", "statusCode", "request": {"method", "url"}, "message", "data": {"docs"}}
//
// Для ошибок дополнительно заполняется "error" с кодом вида ошибки и
// request id. Для ошибок валидации message — список {key, message}.
package response

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
)

// Request — метод и исходный URL запроса.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Data — полезная нагрузка ответа.
type Data struct {
	Docs any `json:"docs"`
}

// APIError — машиночитаемая часть ошибки.
type APIError struct {
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// Envelope — корневой объект любого ответа.
type Envelope struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"statusCode"`
	Request    Request   `json:"request"`
	Message    any       `json:"message"`
	Data       Data      `json:"data"`
	Error      *APIError `json:"error,omitempty"`
}

func requestOf(r *http.Request) Request {
	return Request{Method: r.Method, URL: r.URL.RequestURI()}
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// OK пишет успешный ответ; docs может быть nil.
func OK(w http.ResponseWriter, r *http.Request, status int, message string, docs any) {
	write(w, status, Envelope{
		Success:    true,
		StatusCode: status,
		Request:    requestOf(r),
		Message:    message,
		Data:       Data{Docs: docs},
	})
}

// Error пишет ошибку операции. Статус и сообщение берутся из *service.Error,
// неклассифицированные ошибки отдаются как 500 без деталей.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	e := service.AsError(err)
	if e == nil {
		e = service.AsError(service.ErrInternal)
	}

	var msg any = e.Message
	if len(e.Fields) > 0 {
		msg = e.Fields
	}

	if e.Status >= http.StatusInternalServerError {
		logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelError, "controller_error",
			slog.String("path", r.URL.Path),
			slog.String("code", e.Code()),
			slog.Any("err", err),
		)
	}

	write(w, e.Status, Envelope{
		StatusCode: e.Status,
		Request:    requestOf(r),
		Message:    msg,
		Error: &APIError{
			Code:      e.Code(),
			RequestID: r.Header.Get("X-Request-Id"),
		},
	})
}

// Status пишет ошибку с произвольным статусом и сообщением (404 маршрута, 429).
func Status(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, Envelope{
		StatusCode: status,
		Request:    requestOf(r),
		Message:    message,
		Error: &APIError{
			Code:      code,
			RequestID: r.Header.Get("X-Request-Id"),
		},
	})
}

// Decode читает JSON-тело строго: неизвестные поля отклоняются.
// Пустое тело допустимо и оставляет v нетронутым.
func Decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}
