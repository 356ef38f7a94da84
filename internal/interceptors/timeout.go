package interceptors

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WithTimeout ограничивает вызов сроком d, если клиент не задал свой дедлайн.
// Истечение срока без gRPC-статуса превращается в codes.DeadlineExceeded.
// d <= 0 отключает перехватчик.
func WithTimeout(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}

		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		resp, err := handler(ctx, req)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			if _, ok := status.FromError(err); !ok {
				return nil, status.Errorf(codes.DeadlineExceeded, "%s: deadline exceeded", info.FullMethod)
			}
		}

		return resp, err
	}
}
