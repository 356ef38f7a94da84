// metrics объявляет prometheus-метрики сервиса. Регистрация происходит
// в DefaultRegisterer через promauto, отдаются они на /metrics (promhttp).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auth"

// Результаты операций для label result.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// Operations — вызовы операций сервиса по имени и результату (ok или вид ошибки).
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Session manager operations by result.",
	}, []string{"op", "result"})

	// PasswordHashSeconds — длительность argon2id-хэширования и проверки.
	PasswordHashSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "password_hash_seconds",
		Help:      "Time spent hashing or verifying passwords.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"action"})

	// MailSent — отправленные письма по шаблону и результату.
	MailSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_sent_total",
		Help:      "Outgoing e-mails by template and result.",
	}, []string{"template", "result"})

	// RefreshCacheLookups — обращения к redis-кэшу реестра refresh-токенов.
	RefreshCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_cache_lookups_total",
		Help:      "Refresh ledger cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	// RateLimited — запросы, отклонённые лимитером.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter.",
	}, []string{"limiter"})

	// JanitorDeleted — удалённые фоновой чисткой записи по реестру.
	JanitorDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_deleted_total",
		Help:      "Expired ledger rows removed by the janitor.",
	}, []string{"ledger"})
)

// ObserveOperation увеличивает счётчик операции.
func ObserveOperation(op, result string) {
	Operations.WithLabelValues(op, result).Inc()
}
