package service

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// StartMaintenance запускает цикл фоновой очистки архива: записи старше срока
// хранения удаляются раз в interval. Блокируется до отмены контекста. Сбои БД
// ретраятся с экспоненциальной задержкой; доменных ошибок у очистки нет.
func (s *Service) StartMaintenance(ctx context.Context, interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup(ctx, logger)
		}
	}
}

func (s *Service) runCleanup(ctx context.Context, logger *zap.SugaredLogger) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	var purged int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := s.Cleanup(ctx, s.archiveRetention)
		if err != nil {
			return retry.RetryableError(err)
		}
		purged = n
		return nil
	})
	if err != nil {
		logger.Errorw("archive cleanup failed", "error", err)
		return
	}

	if purged > 0 {
		logger.Infow("archive cleanup finished", "purged", purged)
	}
}
