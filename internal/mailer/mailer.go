// mailer формирует и отправляет письма: ссылку сброса пароля
// и уведомление о смене пароля. Доставка абстрагирована интерфейсом Sender
// (ses.Sender в проде, LogSender локально).
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/redact"
)

// Имена шаблонов, они же значения label template в метриках.
const (
	TemplateResetPassword   = "reset_password"
	TemplatePasswordChanged = "password_changed"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Message — готовое к отправке письмо.
// ReplyTo пустой — отправитель подставляет адрес из конфигурации.
type Message struct {
	To       string
	Subject  string
	HTML     string
	ReplyTo  string
	Template string
}

// Sender доставляет письмо.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Composer рендерит письма по шаблонам.
type Composer struct {
	clientURL string
	loc       *time.Location
}

// NewComposer — clientURL используется для ссылок, tz — для дат в письмах.
func NewComposer(clientURL, tz string) (*Composer, error) {
	const op = "mailer.NewComposer"

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Composer{
		clientURL: strings.TrimRight(clientURL, "/"),
		loc:       loc,
	}, nil
}

// ResetLink — ссылка на страницу сброса с токеном в query.
func (c *Composer) ResetLink(token string) string {
	return c.clientURL + "/reset-password?token=" + url.QueryEscape(token)
}

// LoginLink — ссылка на страницу входа.
func (c *Composer) LoginLink() string {
	return c.clientURL + "/auth/login"
}

// ResetPassword формирует письмо со ссылкой сброса пароля.
func (c *Composer) ResetPassword(to, name, token string, ttl time.Duration) (Message, error) {
	body, err := render(TemplateResetPassword, struct {
		Name             string
		Link             string
		ExpiresInMinutes int
	}{
		Name:             name,
		Link:             c.ResetLink(token),
		ExpiresInMinutes: int(ttl / time.Minute),
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:       to,
		Subject:  "Reset your password",
		HTML:     body,
		Template: TemplateResetPassword,
	}, nil
}

// PasswordChanged формирует уведомление о смене пароля.
func (c *Composer) PasswordChanged(to, name string, at time.Time) (Message, error) {
	local := at.In(c.loc)

	body, err := render(TemplatePasswordChanged, struct {
		Name      string
		Date      string
		Time      string
		LoginLink string
	}{
		Name:      name,
		Date:      local.Format("02 Jan 2006"),
		Time:      local.Format("03:04 PM MST"),
		LoginLink: c.LoginLink(),
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		To:       to,
		Subject:  "Your password was changed",
		HTML:     body,
		Template: TemplatePasswordChanged,
	}, nil
}

func render(name string, data any) (string, error) {
	const op = "mailer.render"

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", fmt.Errorf("%s: %s: %w", op, name, err)
	}

	return buf.String(), nil
}

// LogSender пишет письма в лог вместо отправки (local/dev).
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}

	return &LogSender{log: l}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.LogAttrs(ctx, slog.LevelInfo, "mail_logged",
		slog.String("to", redact.Email(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("template", msg.Template),
	)
	s.log.LogAttrs(ctx, slog.LevelDebug, "mail_body", slog.String("html", msg.HTML))

	return nil
}

type instrumented struct {
	next Sender
}

// Instrumented считает отправки в metrics.MailSent и логирует неудачи.
func Instrumented(next Sender) Sender {
	return &instrumented{next: next}
}

func (s *instrumented) Send(ctx context.Context, msg Message) error {
	const op = "mailer.Send"

	if err := s.next.Send(ctx, msg); err != nil {
		metrics.MailSent.WithLabelValues(msg.Template, metrics.ResultError).Inc()
		log.From(ctx).Error("mail_send_failed",
			slog.String("op", op),
			slog.String("to", redact.Email(msg.To)),
			slog.String("template", msg.Template),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.MailSent.WithLabelValues(msg.Template, metrics.ResultOK).Inc()
	return nil
}

type retrying struct {
	next    Sender
	retries uint64
	base    time.Duration
}

// WithRetry повторяет неудачную отправку до retries раз
// с экспоненциальной паузой от base. retries == 0 возвращает next как есть.
func WithRetry(next Sender, retries uint64, base time.Duration) Sender {
	if retries == 0 {
		return next
	}

	return &retrying{next: next, retries: retries, base: base}
}

func (s *retrying) Send(ctx context.Context, msg Message) error {
	b := retry.WithMaxRetries(s.retries, retry.NewExponential(s.base))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.next.Send(ctx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
