package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
)

// SettlementRetryWorker 周期性地把到期的重试记录重新喂给结算处理器。
// 重试完全由我们自己驱动：提供商侧早已收到 200，不会重投。
type SettlementRetryWorker struct {
	processed domain.ProcessedEventRepository
	processor *SettlementProcessor

	interval time.Duration
	batch    int
}

func NewSettlementRetryWorker(processed domain.ProcessedEventRepository, processor *SettlementProcessor, interval time.Duration, batch int) *SettlementRetryWorker {
	return &SettlementRetryWorker{processed: processed, processor: processor, interval: interval, batch: batch}
}

// Run 以固定间隔驱动重试，直到 ctx 被取消。
func (w *SettlementRetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Ctx(ctx).Info().Dur("interval", w.interval).Msg("settlement retry worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("settlement retry worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce 处理一批到期的重试。单条失败不影响其它条目，
// 失败的条目由 Process 内部再次退避。
func (w *SettlementRetryWorker) RunOnce(ctx context.Context) {
	due, err := w.processed.DueRetries(ctx, time.Now(), w.batch)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to list due settlement retries")
		return
	}

	for _, retry := range due {
		record, err := w.processed.Find(ctx, retry.ExternalEventID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// 痕迹丢了，重试记录没有意义
				_ = w.processed.DeleteRetry(ctx, retry.ExternalEventID)
			}
			continue
		}
		if record.Processed {
			_ = w.processed.DeleteRetry(ctx, retry.ExternalEventID)
			continue
		}

		var evt domain.PaymentProviderEvent
		if err := json.Unmarshal([]byte(record.Payload), &evt); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("event_id", retry.ExternalEventID).
				Msg("retry payload is unreadable, dropping retry record")
			_ = w.processed.DeleteRetry(ctx, retry.ExternalEventID)
			continue
		}

		if err := w.processor.Process(ctx, &evt); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("event_id", retry.ExternalEventID).
				Int("attempt", retry.RetryCount+1).
				Msg("settlement retry failed")
		}
	}
}
