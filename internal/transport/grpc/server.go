// grpc — gRPC-сервер auth-service. Публикует только grpc.health.v1:
// статус SERVING/NOT_SERVING следует за доступностью хранилища.
// Сервер собран с теми же перехватчиками и метриками go-grpc-prometheus,
// что и остальные сервисы, поэтому его можно расширять новыми API.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/go-auth-sessions/internal/interceptors"
)

// ServiceName — имя в health-check, помимо общего "".
const ServiceName = "auth.v1.AuthService"

// Pinger проверяет готовность зависимостей (service.Service).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options — параметры сервера.
type Options struct {
	Logger     *slog.Logger
	Timeout    time.Duration
	Reflection bool
}

// Server — gRPC-сервер с health-сервисом.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// New собирает сервер, регистрирует health, рефлексию (по опции) и метрики.
func New(opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}

	grpc_prometheus.EnableHandlingTimeHistogram()

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(l),
			interceptors.UnaryLoggingInterceptor(l),
			interceptors.WithTimeout(opts.Timeout),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			interceptors.StreamRecover(l),
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	s := &Server{srv: srv, health: hs, log: l}
	s.SetServing(false)

	return s
}

// SetServing переключает статус health для "" и ServiceName.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Probe периодически пингует p и обновляет статус health до отмены ctx.
// Первая проверка выполняется сразу.
func (s *Server) Probe(ctx context.Context, p Pinger, period, timeout time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := p.Ping(pctx)
		if err != nil && ctx.Err() == nil {
			s.log.Warn("readiness_probe_failed", slog.String("err", err.Error()))
		}
		s.SetServing(err == nil)
	}

	check()

	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}

// Serve блокируется до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Shutdown переводит health в NOT_SERVING и ждёт завершения вызовов;
// по истечении ctx соединения рвутся принудительно.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("grpc_stopped")
	case <-ctx.Done():
		s.log.Warn("grpc_force_stop")
		s.srv.Stop()
	}
}
