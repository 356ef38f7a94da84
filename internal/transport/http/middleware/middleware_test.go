package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-auth-sessions/internal/config"
	logctx "github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

// capHandler — slog.Handler, запоминающий последнюю запись вместе с attrs из With.
type capHandler struct {
	mu      sync.Mutex
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) response.Envelope {
	t.Helper()

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	order := []string{}
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-begin")
				next.ServeHTTP(w, r)
				order = append(order, name+"-end")
			})
		}
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	Chain(final, mw("m1"), mw("m2")).ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	t.Parallel()

	var seenHeader, seenCtx string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get("X-Request-Id")
		seenCtx = logctx.RequestID(r.Context())
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq("/rid"))

	id := rr.Header().Get("X-Request-Id")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, id, seenHeader)
	require.Equal(t, id, seenCtx)
}

func TestRequestID_UseExisting(t *testing.T) {
	t.Parallel()

	const given = "abc123-existing-id"
	var seenCtx string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtx = logctx.RequestID(r.Context())
	})

	req := makeReq("/rid")
	req.Header.Set("X-Request-Id", given)
	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get("X-Request-Id"))
	require.Equal(t, given, seenCtx)
}

func TestLogging_WritesRecordWithRequestID(t *testing.T) {
	t.Parallel()

	capH := &capHandler{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	})

	req := makeReq("/log")
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()
	Chain(h, RequestID(), Logging(slog.New(capH))).ServeHTTP(rr, req)

	require.Equal(t, 1, capH.count)
	require.Equal(t, "http", capH.lastMsg)
	require.Equal(t, slog.LevelWarn, capH.lastLvl)
	require.Equal(t, "rid-1", capH.attrs["request_id"])
	require.EqualValues(t, http.StatusNotFound, capH.attrs["status"])
	require.EqualValues(t, 4, capH.attrs["bytes"])
	require.Equal(t, "/log", capH.attrs["path"])
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	t.Parallel()

	var hasDeadline bool
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq("/timeout"))
	require.True(t, hasDeadline)
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()

	var childDL time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), makeReq("/timeout").WithContext(parent))

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestTimeout_SilentHandlerGets503(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(20*time.Millisecond)).ServeHTTP(rr, makeReq("/slow"))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	env := decodeEnvelope(t, rr)
	require.False(t, env.Success)
	require.Equal(t, "timeout", env.Error.Code)
}

func TestTimeout_KeepsWrittenResponse(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(20*time.Millisecond)).ServeHTTP(rr, makeReq("/slow"))

	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	require.Zero(t, rr.Body.Len())
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(h, Recover()).ServeHTTP(rr, makeReq("/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	env := decodeEnvelope(t, rr)
	require.False(t, env.Success)
	require.Equal(t, "internal", env.Error.Code)
	require.NotContains(t, rr.Body.String(), "boom")
}

type fakeValidator struct {
	userID uuid.UUID
	err    error
	seen   string
}

func (f *fakeValidator) ValidateAccessToken(_ context.Context, raw string) (uuid.UUID, string, error) {
	f.seen = raw
	if f.err != nil {
		return uuid.Nil, "", f.err
	}

	return f.userID, "ada@x.com", nil
}

func (f *fakeValidator) ValidateResetToken(_ context.Context, raw string) error {
	f.seen = raw
	return f.err
}

func testJar(t *testing.T) *cookies.Jar {
	t.Helper()

	jar, err := cookies.New("http://localhost:3000", config.AuthConfig{AccessTokenExpiry: 600})
	require.NoError(t, err)
	return jar
}

func TestAuthenticate_CookieAndBearer(t *testing.T) {
	t.Parallel()

	uid := uuid.New()
	for name, setup := range map[string]func(r *http.Request){
		"cookie": func(r *http.Request) { r.AddCookie(&http.Cookie{Name: cookies.AccessName, Value: "tok"}) },
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") },
	} {
		t.Run(name, func(t *testing.T) {
			v := &fakeValidator{userID: uid}
			var got Principal
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = PrincipalFrom(r.Context())
			})

			req := makeReq("/pass/change")
			setup(req)
			rr := httptest.NewRecorder()
			Chain(h, Authenticate(v, testJar(t))).ServeHTTP(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			require.Equal(t, "tok", v.seen)
			require.Equal(t, uid, got.UserID)
			require.Equal(t, "ada@x.com", got.Email)
		})
	}
}

func TestAuthenticate_RejectsAndClearsCookie(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{err: &service.Error{Kind: service.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "Unauthorized"}}
	called := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rr := httptest.NewRecorder()
	Chain(h, Authenticate(v, testJar(t))).ServeHTTP(rr, makeReq("/pass/change"))

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "Unauthorized", decodeEnvelope(t, rr).Message)

	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == cookies.AccessName && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestResetTokenVerifier(t *testing.T) {
	t.Parallel()

	ok := &fakeValidator{}
	called := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	Chain(h, ResetTokenVerifier(ok)).ServeHTTP(httptest.NewRecorder(), makeReq("/pass/reset?token=abc"))
	require.True(t, called)
	require.Equal(t, "abc", ok.seen)

	bad := &fakeValidator{err: errors.New("boom")}
	called = false
	rr := httptest.NewRecorder()
	Chain(h, ResetTokenVerifier(bad)).ServeHTTP(rr, makeReq("/pass/reset"))
	require.False(t, called)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRateLimit_PerIP(t *testing.T) {
	t.Parallel()

	l := NewLimiter("test", 0.001, 2, time.Minute)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), RateLimit(l))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, makeReq("/auth/login"))
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := makeReq("/auth/login")
	other.RemoteAddr = "10.0.0.2:5555"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, other)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_RejectionEnvelope(t *testing.T) {
	t.Parallel()

	l := NewLimiter("test", 0.2, 1, time.Minute)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), RateLimit(l))

	h.ServeHTTP(httptest.NewRecorder(), makeReq("/auth/login"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, makeReq("/auth/login"))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "5", rr.Header().Get("Retry-After"))
	require.Equal(t, "too_many_requests", decodeEnvelope(t, rr).Error.Code)
}

func TestLimiter_ForgetsIdleVisitors(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	l := NewLimiter("test", 1, 1, time.Minute)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("1.1.1.1"))
	require.True(t, l.Allow("2.2.2.2"))
	require.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	require.True(t, l.Allow("3.3.3.3"))
	require.Equal(t, 1, l.Len())
}

func TestRateLimit_NilIsNoop(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), RateLimit(nil)).ServeHTTP(rr, makeReq("/"))
	require.Equal(t, http.StatusOK, rr.Code)
}
