package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/hasher"
	"github.com/pribylovaa/go-auth-sessions/internal/mailer"
	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/storage/memory"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
)

func authCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:          "access-secret",
		AccessTokenExpiry:          600,
		RefreshTokenSecret:         "refresh-secret",
		RefreshTokenExpiry:         43200,
		RefreshTokenRememberExpiry: 864000,
		ResetPasswordTokenSecret:   "reset-secret",
		ResetPasswordTokenExpiry:   900,
		Issuer:                     "auth-service",
	}
}

// outbox запоминает отправленные письма.
type outbox struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (o *outbox) Send(_ context.Context, m mailer.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sent = append(o.sent, m)
	return nil
}

var resetLinkRe = regexp.MustCompile(`reset-password\?token=([^"&<\s]+)`)

func (o *outbox) resetToken(t *testing.T) string {
	t.Helper()

	o.mu.Lock()
	defer o.mu.Unlock()

	require.NotEmpty(t, o.sent)
	match := resetLinkRe.FindStringSubmatch(o.sent[len(o.sent)-1].HTML)
	require.Len(t, match, 2)

	raw, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return raw
}

type testEnv struct {
	h   http.Handler
	box *outbox
}

func newTestEnv(t *testing.T, rl config.RateLimitConfig) *testEnv {
	t.Helper()

	signer, err := token.New(authCfg())
	require.NoError(t, err)

	composer, err := mailer.NewComposer("http://localhost:3000", "UTC")
	require.NoError(t, err)

	box := &outbox{}
	svc := service.New(
		memory.New(),
		hasher.New(config.HasherConfig{Memory: 1024, Iterations: 1, Parallelism: 1}),
		signer,
		composer,
		box,
		authCfg(),
	)

	h, err := NewRouter(svc, Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Env:       config.EnvLocal,
		Timeout:   5 * time.Second,
		ClientURL: "http://localhost:3000",
		Auth:      authCfg(),
		RateLimit: rl,
	})
	require.NoError(t, err)

	return &testEnv{h: h, box: box}
}

func relaxed() config.RateLimitConfig {
	return config.RateLimitConfig{LoginRPS: 1000, LoginBurst: 1000, IdleTTL: time.Minute}
}

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    json.RawMessage `json:"message"`
	Data       struct {
		Docs json.RawMessage `json:"docs"`
	} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type result struct {
	code    int
	env     envelope
	cookies map[string]*http.Cookie
}

func (e *testEnv) do(t *testing.T, method, target, body string, cs ...*http.Cookie) result {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, BasePath+target, rdr)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cs {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)

	res := result{code: rr.Code, cookies: map[string]*http.Cookie{}}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res.env), rr.Body.String())
	for _, c := range rr.Result().Cookies() {
		res.cookies[c.Name] = c
	}

	return res
}

func message(t *testing.T, r result) string {
	t.Helper()

	var s string
	require.NoError(t, json.Unmarshal(r.env.Message, &s))
	return s
}

const registerBody = `{"firstName":"Ada","lastName":"Lovelace","username":"ada","email":"ada@x.com","password":"Str0ngPass1"}`

func TestRouter_SessionLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	reg := e.do(t, http.MethodPost, "/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, reg.code)
	require.True(t, reg.env.Success)
	require.Empty(t, reg.cookies)

	var regDocs struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(reg.env.Data.Docs, &regDocs))
	require.Equal(t, "ada@x.com", regDocs.User.Email)
	require.NotEmpty(t, regDocs.AccessToken)
	require.NotEmpty(t, regDocs.RefreshToken)

	login := e.do(t, http.MethodPost, "/auth/login", `{"username":"ADA","password":"Str0ngPass1","isRememberMe":"true"}`)
	require.Equal(t, http.StatusOK, login.code)
	require.NotContains(t, string(login.env.Data.Docs), "refreshToken")

	access, refresh := login.cookies[cookies.AccessName], login.cookies[cookies.RefreshName]
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	require.Equal(t, 600, access.MaxAge)
	require.Equal(t, 864000, refresh.MaxAge)
	require.True(t, refresh.HttpOnly)

	rt := e.do(t, http.MethodGet, "/auth/refresh-token", "", refresh)
	require.Equal(t, http.StatusOK, rt.code)
	require.NotNil(t, rt.cookies[cookies.AccessName])
	require.Nil(t, rt.cookies[cookies.RefreshName])

	rs := e.do(t, http.MethodGet, "/auth/refresh-session", "", refresh)
	require.Equal(t, http.StatusOK, rs.code)
	require.Contains(t, string(rs.env.Data.Docs), `"username":"ada"`)

	change := e.do(t, http.MethodPost, "/pass/change",
		`{"oldPassword":"Str0ngPass1","newPassword":"N3wPassword","confirmPassword":"N3wPassword"}`, access)
	require.Equal(t, http.StatusOK, change.code, string(change.env.Message))

	out := e.do(t, http.MethodPut, "/auth/logout", "", refresh)
	require.Equal(t, http.StatusOK, out.code)
	require.Less(t, out.cookies[cookies.AccessName].MaxAge, 0)
	require.Less(t, out.cookies[cookies.RefreshName].MaxAge, 0)

	after := e.do(t, http.MethodGet, "/auth/refresh-token", "", refresh)
	require.Equal(t, http.StatusUnauthorized, after.code)
	require.Less(t, after.cookies[cookies.RefreshName].MaxAge, 0)
}

func TestRouter_RegisterValidationIsFieldList(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	res := e.do(t, http.MethodPost, "/auth/register", `{"firstName":"Ada","email":"bad","password":"weak"}`)
	require.Equal(t, http.StatusBadRequest, res.code)
	require.Equal(t, "validation", res.env.Error.Code)

	var fields []service.FieldError
	require.NoError(t, json.Unmarshal(res.env.Message, &fields))

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	require.Contains(t, keys, "email")
	require.Contains(t, keys, "password")
	require.Contains(t, keys, "lastName")
}

func TestRouter_BadBodies(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	res := e.do(t, http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"x","admin":true}`)
	require.Equal(t, http.StatusBadRequest, res.code)
	require.Equal(t, "Invalid request body", message(t, res))

	res = e.do(t, http.MethodPost, "/auth/login", `{"email":`)
	require.Equal(t, http.StatusBadRequest, res.code)
}

func TestRouter_LoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/auth/register", registerBody).code)

	wrong := e.do(t, http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"Wr0ngPass1"}`)
	ghost := e.do(t, http.MethodPost, "/auth/login", `{"email":"ghost@x.com","password":"Wr0ngPass1"}`)

	require.Equal(t, http.StatusBadRequest, wrong.code)
	require.Equal(t, wrong.code, ghost.code)
	require.Equal(t, message(t, wrong), message(t, ghost))
	require.Empty(t, wrong.cookies)
}

func TestRouter_NoCookiePaths(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	out := e.do(t, http.MethodPut, "/auth/logout", "")
	require.Equal(t, http.StatusOK, out.code)
	require.Empty(t, out.cookies)

	// Оба маршрута обновления без cookie отвечают одинаково и проходят через сервис.
	sessionFails := testutil.ToFloat64(metrics.Operations.WithLabelValues("refresh_session", "unauthenticated"))
	for _, path := range []string{"/auth/refresh-token", "/auth/refresh-session"} {
		res := e.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusUnauthorized, res.code, path)
		require.Equal(t, "Session expired", message(t, res), path)
		require.Equal(t, "unauthenticated", res.env.Error.Code, path)
		require.Less(t, res.cookies[cookies.AccessName].MaxAge, 0, path)
		require.Less(t, res.cookies[cookies.RefreshName].MaxAge, 0, path)
	}
	require.Greater(t, testutil.ToFloat64(metrics.Operations.WithLabelValues("refresh_session", "unauthenticated")), sessionFails)

	ch := e.do(t, http.MethodPost, "/pass/change", `{}`)
	require.Equal(t, http.StatusUnauthorized, ch.code)
	require.Less(t, ch.cookies[cookies.AccessName].MaxAge, 0)
}

func TestRouter_TamperedRefreshClearsCookies(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	res := e.do(t, http.MethodGet, "/auth/refresh-token", "", &http.Cookie{Name: cookies.RefreshName, Value: "x.y.z"})
	require.Equal(t, http.StatusUnauthorized, res.code)
	require.Equal(t, "token_invalid", res.env.Error.Code)
	require.Less(t, res.cookies[cookies.AccessName].MaxAge, 0)
	require.Less(t, res.cookies[cookies.RefreshName].MaxAge, 0)
}

func TestRouter_ForgotAndReset(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/auth/register", registerBody).code)

	missing := e.do(t, http.MethodPost, "/pass/forgot", `{}`)
	require.Equal(t, http.StatusBadRequest, missing.code)

	unknown := e.do(t, http.MethodPost, "/pass/forgot", `{"email":"ghost@x.com"}`)
	require.Equal(t, http.StatusNotFound, unknown.code)

	forgot := e.do(t, http.MethodPost, "/pass/forgot", `{"email":"ada"}`)
	require.Equal(t, http.StatusOK, forgot.code)

	raw := e.box.resetToken(t)
	tok := url.QueryEscape(raw)

	// Токен в теле не принимается ни вместо query, ни вместе с ним.
	bodyOnly := e.do(t, http.MethodPost, "/pass/reset", `{"token":"`+raw+`","newPassword":"N3wPassword","confirmPassword":"N3wPassword"}`)
	require.Equal(t, http.StatusBadRequest, bodyOnly.code)

	both := e.do(t, http.MethodPost, "/pass/reset?token="+tok, `{"token":"`+raw+`","newPassword":"N3wPassword","confirmPassword":"N3wPassword"}`)
	require.Equal(t, http.StatusBadRequest, both.code)

	valid := e.do(t, http.MethodGet, "/pass/isTokenValid?token="+tok, "")
	require.Equal(t, http.StatusOK, valid.code)
	require.JSONEq(t, `{"valid":true}`, string(valid.env.Data.Docs))

	noToken := e.do(t, http.MethodGet, "/pass/isTokenValid", "")
	require.Equal(t, http.StatusBadRequest, noToken.code)

	mismatch := e.do(t, http.MethodPost, "/pass/reset?token="+tok, `{"newPassword":"N3wPassword","confirmPassword":"Other1Pass"}`)
	require.Equal(t, http.StatusBadRequest, mismatch.code)

	reset := e.do(t, http.MethodPost, "/pass/reset?token="+tok, `{"newPassword":"N3wPassword","confirmPassword":"N3wPassword"}`)
	require.Equal(t, http.StatusOK, reset.code, string(reset.env.Message))

	reused := e.do(t, http.MethodGet, "/pass/isTokenValid?token="+tok, "")
	require.Equal(t, http.StatusBadRequest, reused.code)

	login := e.do(t, http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"N3wPassword"}`)
	require.Equal(t, http.StatusOK, login.code)
}

func TestRouter_LoginRateLimited(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, config.RateLimitConfig{LoginRPS: 0.001, LoginBurst: 1, IdleTTL: time.Minute})

	first := e.do(t, http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"x"}`)
	require.Equal(t, http.StatusBadRequest, first.code)

	second := e.do(t, http.MethodPost, "/auth/login", `{"email":"ada@x.com","password":"x"}`)
	require.Equal(t, http.StatusTooManyRequests, second.code)

	// /pass не входит в группу /auth.
	forgot := e.do(t, http.MethodPost, "/pass/forgot", `{"email":"ghost@x.com"}`)
	require.Equal(t, http.StatusNotFound, forgot.code)
}

func TestRouter_ServiceRoutes(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, relaxed())

	welcome := e.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, welcome.code)

	self := e.do(t, http.MethodGet, "/self", "")
	require.Equal(t, "Success", message(t, self))

	health := e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, health.code)

	var docs struct {
		Application struct {
			Environment string `json:"environment"`
			Database    string `json:"database"`
		} `json:"application"`
		Timestamp int64 `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(health.env.Data.Docs, &docs))
	require.Equal(t, config.EnvLocal, docs.Application.Environment)
	require.Equal(t, "up", docs.Application.Database)
	require.Positive(t, docs.Timestamp)

	missing := e.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, missing.code)
	require.Equal(t, "not_found", missing.env.Error.Code)
}

func TestNewRouter_RejectsRelativeClientURL(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(nil, Options{ClientURL: "localhost:3000", Auth: authCfg()})
	require.Error(t, err)
}
