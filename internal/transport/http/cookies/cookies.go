// cookies выставляет и читает cookie accessToken/refreshToken.
// Флаги Secure и Domain выводятся из адреса фронтенда (CLIENT_URL).
package cookies

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
)

const (
	AccessName  = "accessToken"
	RefreshName = "refreshToken"
)

// Jar хранит общие атрибуты cookie и сроки жизни токенов.
type Jar struct {
	domain      string
	secure      bool
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
}

// New разбирает адрес клиента. Для https cookie ставятся с Secure и
// на основной домен (".example.com"), чтобы их видели поддомены.
func New(clientURL string, auth config.AuthConfig) (*Jar, error) {
	const op = "cookies.New"

	u, err := url.Parse(clientURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	j := &Jar{
		accessTTL:   auth.AccessTokenExpiry.Duration(),
		refreshTTL:  auth.RefreshTokenExpiry.Duration(),
		rememberTTL: auth.RefreshTokenRememberExpiry.Duration(),
	}

	if u.Scheme == "https" {
		j.secure = true
		domain, err := mainDomain(u.Hostname())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if domain != "" {
			j.domain = "." + domain
		}
	}

	return j, nil
}

// mainDomain возвращает регистрируемый домен хоста по списку публичных
// суффиксов: app.example.com -> example.com, app.example.co.uk -> example.co.uk.
// Для IP-адреса Domain не ставится (пустая строка).
func mainDomain(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return "", nil
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(host, "."))
	if err != nil {
		return "", fmt.Errorf("invalid domain format %q: %w", host, err)
	}

	return domain, nil
}

// Domain возвращает атрибут Domain (пустой для http-клиента).
func (j *Jar) Domain() string { return j.domain }

func (j *Jar) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAccess выставляет access-токен на срок его жизни.
func (j *Jar) SetAccess(w http.ResponseWriter, token string) {
	http.SetCookie(w, j.cookie(AccessName, token, j.accessTTL))
}

// SetRefresh выставляет refresh-токен; remember продлевает срок до remember-ttl.
func (j *Jar) SetRefresh(w http.ResponseWriter, token string, remember bool) {
	ttl := j.refreshTTL
	if remember {
		ttl = j.rememberTTL
	}

	http.SetCookie(w, j.cookie(RefreshName, token, ttl))
}

// ClearAccess удаляет access-cookie.
func (j *Jar) ClearAccess(w http.ResponseWriter) {
	c := j.cookie(AccessName, "", 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// ClearRefresh удаляет refresh-cookie.
func (j *Jar) ClearRefresh(w http.ResponseWriter) {
	c := j.cookie(RefreshName, "", 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// ClearAll удаляет обе cookie.
func (j *Jar) ClearAll(w http.ResponseWriter) {
	j.ClearAccess(w)
	j.ClearRefresh(w)
}

// Access возвращает значение access-cookie или пустую строку.
func Access(r *http.Request) string { return value(r, AccessName) }

// Refresh возвращает значение refresh-cookie или пустую строку.
func Refresh(r *http.Request) string { return value(r, RefreshName) }

func value(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}

	return c.Value
}
