package application

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

// LeaderElector 抽象多实例部署下的"只有一个实例清扫"约束。
// 生产实现是 ZooKeeper 临时节点抢占锁。
type LeaderElector interface {
	TryAcquire() (bool, error)
	Release() error
}

// ExpirySweeper 是过期占用的兜底回收器：购物者关掉标签页从不显式取消，
// 占用靠 expiresAt 自灭，清扫器负责把它们真正释放回可售量。
// 它完全独立于请求流量，只碰从未走到支付的占用。
type ExpirySweeper struct {
	holds   domain.CartReservationRepository
	manager *ReservationManager
	events  port.EventPublisher
	elector LeaderElector

	interval    time.Duration
	batchSize   int
	concurrency int
	tracer      trace.Tracer
}

func NewExpirySweeper(
	holds domain.CartReservationRepository,
	manager *ReservationManager,
	events port.EventPublisher,
	elector LeaderElector,
	interval time.Duration,
	batchSize, concurrency int,
	tracer trace.Tracer,
) *ExpirySweeper {
	return &ExpirySweeper{
		holds: holds, manager: manager, events: events, elector: elector,
		interval: interval, batchSize: batchSize, concurrency: concurrency, tracer: tracer,
	}
}

// Run 以固定间隔清扫，直到 ctx 被取消。退出时释放领导权。
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		if err := s.elector.Release(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to release sweeper leadership")
		}
	}()

	logger.Ctx(ctx).Info().Dur("interval", s.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			leader, err := s.elector.TryAcquire()
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("sweeper leader election failed")
				continue
			}
			if !leader {
				continue
			}
			result := s.RunOnce(ctx)
			if result.Expired > 0 || len(result.Errors) > 0 {
				logger.Ctx(ctx).Info().
					Int("expired", result.Expired).
					Int("released", result.Released).
					Int("errors", len(result.Errors)).
					Msg("expiry sweep finished")
			}
		}
	}
}

// RunOnce 执行一轮清扫：取一批过期且仍处于 RESERVED 的占用并释放。
// 单条失败收集进结果，绝不中断整批。
func (s *ExpirySweeper) RunOnce(ctx context.Context) SweepResult {
	ctx, span := s.tracer.Start(ctx, "sweeper.RunOnce")
	defer span.End()

	metricSweepRuns.Inc()

	expired, err := s.holds.FindExpired(ctx, time.Now(), s.batchSize)
	if err != nil {
		span.RecordError(err)
		return SweepResult{Errors: []error{err}}
	}

	result := SweepResult{Expired: len(expired)}
	if len(expired) == 0 {
		return result
	}

	var mu sync.Mutex
	g := errgroup.Group{}
	g.SetLimit(s.concurrency)

	for _, reservation := range expired {
		reservation := reservation
		g.Go(func() error {
			released, err := s.manager.Release(ctx, reservation.ID, domain.ReleaseReasonExpired)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, err)
				return nil // 收集错误，不让 errgroup 中断别的条目
			}
			result.Released++
			metricSweepReleased.Inc()

			s.emitExpired(ctx, released)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.expired", result.Expired),
		attribute.Int("sweep.released", result.Released),
		attribute.Int("sweep.errors", len(result.Errors)),
	)
	return result
}

func (s *ExpirySweeper) emitExpired(ctx context.Context, r *domain.CartReservation) {
	event := domain.ReservationExpiredEvent{
		ReservationID:  r.ID,
		StoreID:        r.StoreID,
		SellableItemID: r.SellableItemID,
		Quantity:       r.Quantity,
		ExpiredAt:      r.ExpiresAt,
	}
	if err := s.events.Emit(ctx, domain.EventReservationExpired, event, r.StoreID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("reservation_id", r.ID).
			Msg("failed to emit reservation.expired fact")
	}
}
