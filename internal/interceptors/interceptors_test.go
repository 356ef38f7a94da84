package interceptors

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
)

// capHandler — slog.Handler, запоминающий последнюю запись и число записей по тексту.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   map[string]int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	if h.count == nil {
		h.count = make(map[string]int)
	}
	h.count[r.Message]++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func TestUnaryLoggingInterceptor_PropagatesRequestID(t *testing.T) {
	h := &capHandler{}

	md := metadata.New(map[string]string{"x-request-id": "rid-123"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50051}})

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	var seenRID string
	resp, err := UnaryLoggingInterceptor(slog.New(h))(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		seenRID = log.RequestID(ctx)
		time.Sleep(2 * time.Millisecond)
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	require.Equal(t, "rid-123", seenRID)
	require.Equal(t, "grpc", h.lastMsg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)
	require.Equal(t, "rid-123", h.attrs["request_id"])
	require.Equal(t, info.FullMethod, h.attrs["method"])
	require.Equal(t, "127.0.0.1:50051", h.attrs["peer"])
	require.Equal(t, "OK", h.attrs["code"])

	d, ok := h.attrs["dur"].(time.Duration)
	require.True(t, ok)
	require.Greater(t, d, time.Duration(0))
}

func TestUnaryLoggingInterceptor_GeneratesUUID_AndLogsInternalAsError(t *testing.T) {
	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := UnaryLoggingInterceptor(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Internal, "boom")
	})
	require.Error(t, err)

	require.Equal(t, "Internal", h.attrs["code"])
	require.Equal(t, slog.LevelError, h.lastLvl)

	rid, _ := h.attrs["request_id"].(string)
	_, parseErr := uuid.Parse(rid)
	require.NoError(t, parseErr)
}

func TestRecover_PanicToInternal_AndLogsStack(t *testing.T) {
	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := Recover(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})

	require.Nil(t, resp)
	require.Equal(t, codes.Internal, status.Code(err))
	require.NotContains(t, err.Error(), "boom")

	require.Equal(t, slog.LevelError, h.lastLvl)
	require.Equal(t, "panic_recovered", h.lastMsg)
	require.Equal(t, info.FullMethod, h.attrs["method"])

	stack, ok := h.attrs["stack"].(string)
	require.True(t, ok)
	require.NotEmpty(t, stack)
}

func TestRecover_NoPanic_PassThrough(t *testing.T) {
	h := &capHandler{}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := Recover(slog.New(h))(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Empty(t, h.lastMsg)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeStream) Context() context.Context { return s.ctx }

func TestStreamRecover(t *testing.T) {
	h := &capHandler{}
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	ss := &fakeStream{ctx: context.Background()}

	err := StreamRecover(slog.New(h))(nil, ss, info, func(srv any, stream grpc.ServerStream) error {
		panic("boom")
	})
	require.Equal(t, codes.Internal, status.Code(err))
	require.Equal(t, 1, h.count["panic_recovered"])

	err = StreamRecover(slog.New(h))(nil, ss, info, func(srv any, stream grpc.ServerStream) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithTimeout_SetsDeadline(t *testing.T) {
	const d = 40 * time.Millisecond

	start := time.Now()
	_, err := WithTimeout(d)(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/Sleep"},
		func(ctx context.Context, req any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)

	require.Equal(t, codes.DeadlineExceeded, status.Code(err))
	require.GreaterOrEqual(t, time.Since(start), d)
}

func TestWithTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	pdl, _ := parent.Deadline()

	var childDL time.Time
	_, err := WithTimeout(time.Second)(parent, "req", &grpc.UnaryServerInfo{FullMethod: "/x/HasDeadline"},
		func(ctx context.Context, req any) (any, error) {
			childDL, _ = ctx.Deadline()
			return "ok", nil
		},
	)

	require.NoError(t, err)
	require.Equal(t, pdl, childDL)
}

func TestWithTimeout_ZeroIsNoop(t *testing.T) {
	_, err := WithTimeout(0)(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/None"},
		func(ctx context.Context, req any) (any, error) {
			_, ok := ctx.Deadline()
			require.False(t, ok)
			return nil, nil
		},
	)
	require.NoError(t, err)
}
