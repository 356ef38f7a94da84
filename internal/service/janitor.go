package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pribylovaa/go-auth-sessions/internal/metrics"
	"github.com/pribylovaa/go-auth-sessions/internal/pkg/log"
)

// PruneResult — сколько записей удалила чистка.
type PruneResult struct {
	RefreshTokens int64
	ResetTokens   int64
}

// PruneExpired удаляет из обоих реестров записи с expires_at <= before.
// Корректность от чистки не зависит: срок проверяется при каждом обращении.
func (s *Service) PruneExpired(ctx context.Context, before time.Time) (res PruneResult, err error) {
	const op = "service.janitor.PruneExpired"
	defer func() { observe("prune_expired", err) }()

	res.RefreshTokens, err = s.storage.DeleteExpiredRefreshTokens(ctx, before)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}
	metrics.JanitorDeleted.WithLabelValues("refresh_tokens").Add(float64(res.RefreshTokens))

	res.ResetTokens, err = s.storage.DeleteExpiredResetTokens(ctx, before)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, newError(ErrInternal, err))
	}
	metrics.JanitorDeleted.WithLabelValues("reset_tokens").Add(float64(res.ResetTokens))

	log.From(ctx).Info("ledgers_pruned",
		slog.Time("before", before),
		slog.Int64("refresh_tokens", res.RefreshTokens),
		slog.Int64("reset_tokens", res.ResetTokens),
	)

	return res, nil
}

// RunJanitor периодически чистит реестры до отмены ctx.
// Отрезка для refresh-токенов и токенов сброса: now - retention.
func (s *Service) RunJanitor(ctx context.Context, period, retention time.Duration) {
	const op = "service.janitor.RunJanitor"

	if period <= 0 {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PruneExpired(ctx, s.now().Add(-retention)); err != nil {
				log.From(ctx).Error("ledgers_prune_failed", slog.String("op", op), slog.String("err", err.Error()))
			}
		}
	}
}
