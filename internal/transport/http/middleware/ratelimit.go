package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter — token bucket на каждый IP-адрес клиента.
// Адреса, не появлявшиеся дольше idleTTL, забываются.
type Limiter struct {
	name    string
	rps     rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter создаёт лимитер; name попадает в label метрики auth_rate_limited_total.
func NewLimiter(name string, rps float64, burst int, idleTTL time.Duration) *Limiter {
	return &Limiter{
		name:     name,
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow расходует один токен для ip.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.idleTTL > 0 && now.Sub(l.lastSweep) >= l.idleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) >= l.idleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// Len — число отслеживаемых адресов.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.visitors)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}

// RateLimit отвечает 429, когда IP исчерпал бюджет лимитера.
// Адрес берётся из RemoteAddr, поэтому chi RealIP должен стоять раньше.
func RateLimit(l *Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				metrics.RateLimited.WithLabelValues(l.name).Inc()

				secs := 1
				if l.rps > 0 && l.rps < 1 {
					secs = int(math.Ceil(1 / float64(l.rps)))
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				response.Status(w, r, http.StatusTooManyRequests, "too_many_requests", "Too many requests, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
