package service

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// RegisterInput — данные регистрации.
type RegisterInput struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Username  string `json:"username" validate:"required"`
	Email     string `json:"email" validate:"required,strict_email"`
	Password  string `json:"password" validate:"required,password"`
}

// LoginInput — вход по email или username.
type LoginInput struct {
	Email      string `json:"email" validate:"omitempty,strict_email"`
	Username   string `json:"username"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"-"`
}

// identifier возвращает email, если он задан, иначе username.
func (in LoginInput) identifier() string {
	if in.Email != "" {
		return in.Email
	}

	return in.Username
}

// ChangePasswordInput — смена пароля аутентифицированным пользователем.
type ChangePasswordInput struct {
	OldPassword     string `json:"oldPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// ForgotPasswordInput — поле email принимает и username.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required"`
}

// ResetPasswordInput — установка нового пароля по ссылке из письма.
type ResetPasswordInput struct {
	NewPassword     string `json:"newPassword" validate:"required,password"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
	Token           string `json:"-" query:"token" validate:"required"`
}

const passwordRule = "Password must contain at least 8 characters, one uppercase letter, one lowercase letter and one number"

// messages: "<поле>.<правило>" -> текст для клиента.
var messages = map[string]string{
	"firstName.required":            "First name is required",
	"lastName.required":             "Last name is required",
	"username.required":             "Username is required",
	"email.required":                "Email is required",
	"email.strict_email":            "Email must be a valid email address",
	"password.required":             "Password is required",
	"password.password":             passwordRule,
	"oldPassword.required":          "Old password is required",
	"newPassword.required":          "New password is required",
	"newPassword.password":          passwordRule,
	"confirmPassword.required":      "Confirm password is required",
	"token.required":                "Token is required",
	"checkUsernameOrEmail.identity": "Please enter your username or email",
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			// Поля вне тела называются по параметру query.
			return f.Tag.Get("query")
		}
		return name
	})

	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("strict_email", func(fl validator.FieldLevel) bool {
		return emailRe.MatchString(fl.Field().String())
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		in := sl.Current().Interface().(LoginInput)
		if strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.Username) == "" {
			sl.ReportError(in.Email, "checkUsernameOrEmail", "CheckUsernameOrEmail", "identity", "")
		}
	}, LoginInput{})

	return v
}

// strongPassword: не короче 8 символов, есть цифра, строчная и заглавная буквы.
func strongPassword(pw string) bool {
	if len([]rune(pw)) < 8 {
		return false
	}

	var lower, upper, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	return lower && upper && digit
}

// Validate проверяет структуру и возвращает ошибки по полям в порядке объявления.
// nil — данные корректны.
func Validate(in any) []FieldError {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Key: "body", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = fe.Field() + " is invalid"
		}
		out = append(out, FieldError{Key: fe.Field(), Message: msg})
	}

	return out
}
