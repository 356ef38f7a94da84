// interceptors — серверные gRPC-перехватчики: восстановление после паник,
// логирование и дедлайн по умолчанию.
package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
)

var errInternal = status.Error(codes.Internal, "internal server error")

func logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := log.From(ctx)
	if l == slog.Default() && base != nil {
		return base
	}

	return l
}

func logPanic(l *slog.Logger, method string, rec any) {
	l.Error("panic_recovered",
		slog.String("method", method),
		slog.Any("panic", rec),
		slog.String("stack", string(debug.Stack())),
	)
}

// Recover перехватывает панику в unary-обработчике, логирует её со стеком
// и отвечает codes.Internal без деталей.
func Recover(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger(ctx, base), info.FullMethod, r)
				resp, err = nil, errInternal
			}
		}()

		return handler(ctx, req)
	}
}

// StreamRecover — то же для потоковых вызовов (health Watch).
func StreamRecover(base *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger(ss.Context(), base), info.FullMethod, r)
				err = errInternal
			}
		}()

		return handler(srv, ss)
	}
}
