package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

// ReservationManager 管理购物车粒度的短时库存占用。
// 防超卖不靠进程内锁：创建走"锁行、查可售量、写占用"的单事务，
// 在售列表行上的排他锁是"谁抢到最后一件"的仲裁者。
type ReservationManager struct {
	tx     domain.TransactionManager
	items  domain.SellableItemRepository
	holds  domain.CartReservationRepository
	cache  port.StockCache
	tracer trace.Tracer
}

func NewReservationManager(tx domain.TransactionManager, items domain.SellableItemRepository, holds domain.CartReservationRepository, cache port.StockCache, tracer trace.Tracer) *ReservationManager {
	return &ReservationManager{tx: tx, items: items, holds: holds, cache: cache, tracer: tracer}
}

// AvailableStock 计算某个在售项当前的可售量：
// syncedStock 减去未过期的活跃占用总量，下限 0。租户隔离由仓储保证。
func (m *ReservationManager) AvailableStock(ctx context.Context, storeID, itemID string) (int, error) {
	item, err := m.items.FindByID(ctx, storeID, itemID)
	if err != nil {
		return 0, err
	}
	held, err := m.holds.ActiveHoldTotal(ctx, storeID, itemID, time.Now())
	if err != nil {
		return 0, err
	}
	return item.AvailableToSell(held), nil
}

// Create 建立（或顶替同购物车同商品的既有）占用。
// 库存不足时不产生任何写入；并发插入冲突原样抛出
// ErrReservationConflict，由调用方决定重试。
func (m *ReservationManager) Create(ctx context.Context, storeID, cartID, itemID, customerID string, quantity int, ttl time.Duration) (*domain.CartReservation, int, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("store.id", storeID),
		attribute.String("item.id", itemID),
		attribute.Int("quantity", quantity),
	)

	var reservation *domain.CartReservation
	remaining := 0
	err := m.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		// 行锁把"查可售量"和"写占用"箍进同一个原子判定。
		// 两个购物车抢最后一件时在这把锁上排队，后到的一方
		// 看到的是已经包含对方占用的总量，拿库存不足离场。
		item, err := m.items.FindByIDForUpdate(txCtx, storeID, itemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return domain.ErrNotFound
		}

		held, err := m.holds.ActiveHoldTotal(txCtx, storeID, itemID, time.Now())
		if err != nil {
			return err
		}
		available := item.AvailableToSell(held)
		if available < quantity {
			return &domain.InsufficientStockError{Available: available, Requested: quantity}
		}

		reservation, err = domain.NewCartReservation(storeID, cartID, itemID, customerID, quantity, ttl)
		if err != nil {
			return err
		}
		remaining = available - quantity
		return m.holds.UpsertActive(txCtx, reservation)
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			span.SetStatus(codes.Error, "insufficient stock")
		case errors.Is(err, domain.ErrReservationConflict):
			metricReservationConflicts.Inc()
		}
		return nil, 0, err
	}

	metricReservationsCreated.Inc()
	m.invalidateCache(ctx, storeID, itemID)
	span.AddEvent("Cart hold written under the listing row lock.")

	return reservation, remaining, nil
}

// Extend 顺延占用的过期时间。续期不增加占用量，所以不重查库存。
func (m *ReservationManager) Extend(ctx context.Context, reservationID string, additional time.Duration) (*domain.CartReservation, error) {
	reservation, err := m.holds.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := reservation.Extend(additional); err != nil {
		return nil, err
	}
	if err := m.holds.Update(ctx, reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

// Confirm 把占用绑定到订单。已过期的占用会被转入 EXPIRED 并持久化，
// 调用方拿到 ErrReservationExpired。
func (m *ReservationManager) Confirm(ctx context.Context, reservationID, orderID string) (*domain.CartReservation, error) {
	reservation, err := m.holds.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	confirmErr := reservation.Confirm(orderID, time.Now())
	if confirmErr == domain.ErrReservationExpired {
		// 过期转移也要落库，让占用立刻停止吃可售量
		if err := m.holds.Update(ctx, reservation); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("reservation_id", reservationID).
				Msg("failed to persist expiry transition during confirm")
		}
		m.invalidateCache(ctx, reservation.StoreID, reservation.SellableItemID)
		return nil, confirmErr
	}
	if confirmErr != nil {
		return nil, confirmErr
	}

	if err := m.holds.Update(ctx, reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release 按原因释放占用。对终态记录是幂等空操作：
// 补偿路径可能对同一条记录调用多次。
func (m *ReservationManager) Release(ctx context.Context, reservationID string, reason domain.ReleaseReason) (*domain.CartReservation, error) {
	reservation, err := m.holds.FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if !reservation.Release(reason) {
		return reservation, nil // 已是终态，no-op 成功
	}
	if err := m.holds.Update(ctx, reservation); err != nil {
		return nil, err
	}

	metricReservationsReleased.WithLabelValues(string(reason)).Inc()
	m.invalidateCache(ctx, reservation.StoreID, reservation.SellableItemID)
	return reservation, nil
}

// ReleaseAllForCart 对购物车名下所有活跃占用做尽力而为的批量释放。
// 单条失败收集起来，不中断整批。
func (m *ReservationManager) ReleaseAllForCart(ctx context.Context, cartID string) (int, []error) {
	ctx, span := m.tracer.Start(ctx, "reservation.ReleaseAllForCart")
	defer span.End()

	active, err := m.holds.FindActiveByCart(ctx, cartID)
	if err != nil {
		span.RecordError(err)
		return 0, []error{err}
	}

	released := 0
	var errs []error
	for _, reservation := range active {
		if _, err := m.Release(ctx, reservation.ID, domain.ReleaseReasonCancelled); err != nil {
			errs = append(errs, &domain.CompensationError{Step: "release:" + reservation.ID, Wrapped: err})
			continue
		}
		released++
	}

	span.SetAttributes(attribute.Int("released", released), attribute.Int("errors", len(errs)))
	return released, errs
}

func (m *ReservationManager) invalidateCache(ctx context.Context, storeID, itemID string) {
	if m.cache != nil {
		m.cache.Invalidate(ctx, storeID, itemID)
	}
}
