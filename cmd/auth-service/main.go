package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-auth-sessions/internal/cache"
	"github.com/pribylovaa/go-auth-sessions/internal/config"
	"github.com/pribylovaa/go-auth-sessions/internal/hasher"
	"github.com/pribylovaa/go-auth-sessions/internal/mailer"
	"github.com/pribylovaa/go-auth-sessions/internal/mailer/ses"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/storage"
	"github.com/pribylovaa/go-auth-sessions/internal/storage/memory"
	"github.com/pribylovaa/go-auth-sessions/internal/storage/mongo"
	"github.com/pribylovaa/go-auth-sessions/internal/storage/postgres"
	"github.com/pribylovaa/go-auth-sessions/internal/token"
	authgrpc "github.com/pribylovaa/go-auth-sessions/internal/transport/grpc"
	authhttp "github.com/pribylovaa/go-auth-sessions/internal/transport/http"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	str, err := openStorage(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer str.Close()

	signer, err := token.New(cfg.Auth)
	if err != nil {
		return err
	}

	composer, err := mailer.NewComposer(cfg.Client.URL, cfg.Mail.TimeZone)
	if err != nil {
		return err
	}

	sender, err := newSender(ctx, cfg.Mail, log)
	if err != nil {
		return err
	}

	srvc := service.New(str, hasher.New(cfg.Hasher), signer, composer, sender, cfg.Auth)

	// Кэш реестра refresh-токенов опционален.
	if cfg.Redis.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.RedisURL, cfg.Redis.Prefix)
		if err != nil {
			log.Warn("redis_unavailable_cache_disabled", slog.String("err", err.Error()))
		} else {
			defer func() { _ = rc.Close() }()
			srvc.SetRefreshCache(rc)
			log.Info("redis_cache_enabled")
		}
	}
	log.Info("service_initialized")

	apiHandler, err := authhttp.NewRouter(srvc, authhttp.Options{
		Logger:    log,
		Env:       cfg.Env,
		Timeout:   cfg.Timeouts.Service,
		ClientURL: cfg.Client.URL,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
	})
	if err != nil {
		return err
	}

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", httpAddr, err)
	}

	grpcAddr := cfg.GRPC.Addr()
	grpcLn, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		_ = httpLn.Close()
		return fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
	}

	// Рефлексия только в local/dev.
	grpcSrv := authgrpc.New(authgrpc.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		Reflection: cfg.Env == config.EnvLocal || cfg.Env == config.EnvDev,
	})

	bgCtx, bgCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	serveErrCh := make(chan error, 2)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		log.Info("grpc_listen_start", slog.String("addr", grpcAddr))
		if err := grpcSrv.Serve(grpcLn); err != nil {
			serveErrCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	// Health gRPC следует за доступностью хранилища.
	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcSrv.Probe(bgCtx, srvc, 15*time.Second, cfg.Timeouts.Service)
	}()

	// Фоновая очистка просроченных записей реестров.
	wg.Add(1)
	go func() {
		defer wg.Done()
		srvc.RunJanitor(bgCtx, cfg.Janitor.Period, cfg.Janitor.Retention)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		log.Error("serve_failed", slog.String("err", serveErr.Error()))
	}

	atomic.StoreInt32(&ready, 0)
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	grpcSrv.Shutdown(shutdownCtx)

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	wg.Wait()

	return serveErr
}

// openStorage подключает хранилище выбранного драйвера; для postgres
// перед подключением применяются миграции (если включены).
func openStorage(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (storage.Storage, error) {
	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Driver {
	case config.DriverPostgres:
		if cfg.Migrate {
			if err := postgres.Migrate(dbCtx, cfg.DatabaseURL); err != nil {
				return nil, err
			}
			log.Info("postgres_migrated")
		}

		st, err := postgres.New(dbCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("postgres_connected")
		return st, nil

	case config.DriverMongo:
		st, err := mongo.New(dbCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Info("mongo_connected")
		return st, nil

	case config.DriverMemory:
		log.Warn("memory_storage_in_use")
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
}

// newSender выбирает транспорт почты и оборачивает его повторами и метриками.
func newSender(ctx context.Context, cfg config.MailConfig, log *slog.Logger) (mailer.Sender, error) {
	var base mailer.Sender

	switch cfg.Driver {
	case config.MailDriverSES:
		s, err := ses.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		base = s
	default:
		base = mailer.NewLogSender(log)
	}

	return mailer.Instrumented(mailer.WithRetry(base, cfg.Retries, cfg.RetryBase)), nil
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
