package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Виды ошибок сервиса. Проверяются через errors.Is на любой ошибке,
// которую вернула операция.
var (
	ErrValidation         = errors.New("validation failed")
	ErrAlreadyExists      = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginRestricted    = errors.New("login restricted")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrNotFound           = errors.New("not found")
	ErrSamePassword       = errors.New("same password")
	ErrPasswordMismatch   = errors.New("password mismatch")
	ErrWrongPassword      = errors.New("wrong password")
	ErrInvalidResetToken  = errors.New("invalid reset token")
	ErrDependencyFailure  = errors.New("dependency failure")
	ErrInternal           = errors.New("internal error")
)

type kindInfo struct {
	status  int
	message string
	label   string
}

var kinds = map[error]kindInfo{
	ErrValidation:         {http.StatusBadRequest, "Validation failed", "validation"},
	ErrAlreadyExists:      {http.StatusConflict, "User already exists with this email or username", "already_exists"},
	ErrInvalidCredentials: {http.StatusBadRequest, "Invalid credentials", "invalid_credentials"},
	ErrLoginRestricted:    {http.StatusForbidden, "Your account is restricted, please contact support", "login_restricted"},
	ErrUnauthenticated:    {http.StatusUnauthorized, "Session expired", "unauthenticated"},
	ErrTokenInvalid:       {http.StatusUnauthorized, "Invalid or expired token", "token_invalid"},
	ErrNotFound:           {http.StatusNotFound, "User not found", "not_found"},
	ErrSamePassword:       {http.StatusBadRequest, "New password must be different from the old password", "same_password"},
	ErrPasswordMismatch:   {http.StatusBadRequest, "New password and confirm password do not match", "password_mismatch"},
	ErrWrongPassword:      {http.StatusBadRequest, "Old password is incorrect", "wrong_password"},
	ErrInvalidResetToken:  {http.StatusBadRequest, "Invalid token", "invalid_reset_token"},
	ErrDependencyFailure:  {http.StatusInternalServerError, "Something went wrong, please try again later", "dependency_failure"},
	ErrInternal:           {http.StatusInternalServerError, "Something went wrong", "internal"},
}

// FieldError — ошибка валидации одного поля входных данных.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Error — типизированный результат неуспешной операции.
// Транспорт смотрит только на Status, Message, Fields и Code.
type Error struct {
	Kind    error
	Status  int
	Message string
	Fields  []FieldError
	// Err — исходная причина, в ответ клиенту не попадает.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}

	return []error{e.Kind}
}

func newError(kind, cause error) *Error {
	info, ok := kinds[kind]
	if !ok {
		kind, info = ErrInternal, kinds[ErrInternal]
	}

	return &Error{
		Kind:    kind,
		Status:  info.status,
		Message: info.message,
		Err:     cause,
	}
}

// withMessage заменяет сообщение для клиента.
func (e *Error) withMessage(msg string) *Error {
	e.Message = msg
	return e
}

func validationError(fields []FieldError) *Error {
	e := newError(ErrValidation, nil)
	e.Fields = fields

	return e
}

// AsError достаёт *Error из цепочки. Всё, что не было классифицировано,
// считается внутренней ошибкой.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return newError(ErrInternal, err)
}

// Code — короткий стабильный код вида ошибки ("token_invalid", "not_found").
// Он же используется как label result в метриках.
func (e *Error) Code() string {
	return kinds[e.Kind].label
}

func label(err error) string {
	return AsError(err).Code()
}
