package checkout

import (
	"time"

	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
)

// FinalizeHandler 把购物车占用绑定到订单，对外发布 order.created 事实，
// 并尽力触发分账记录预计算。
type FinalizeHandler struct {
	NextHandler
}

func (h *FinalizeHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.Finalize")
	defer span.End()

	// 占用确认失败（例如恰好过期）会中止下单并触发全部补偿
	for _, line := range chkCtx.Lines {
		confirmed, err := chkCtx.Holds.Confirm(ctx, line.Reservation.ID, chkCtx.Order.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cart hold confirmation failed")
			return err
		}
		line.Reservation = confirmed
	}

	// 事实发布与分账预计算都是尽力而为：失败只记日志，
	// 不能让一笔已经完整预占的订单翻车。
	event := domain.OrderCreatedEvent{
		OrderID:         chkCtx.Order.ID,
		StoreID:         chkCtx.Order.StoreID,
		CartID:          chkCtx.Order.CartID,
		CustomerID:      chkCtx.Order.CustomerID,
		TotalCents:      chkCtx.Order.TotalCents,
		PaymentIntentID: chkCtx.Order.PaymentIntentID,
		PlacedAt:        time.Now(),
	}
	if err := chkCtx.Events.Emit(ctx, domain.EventOrderCreated, event, chkCtx.StoreID); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", chkCtx.Order.ID).
			Msg("failed to emit order.created fact")
	}

	if err := chkCtx.Payout.CreateRecords(ctx, chkCtx.Order); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", chkCtx.Order.ID).
			Msg("payout pre-computation failed, will be reconciled at settlement")
	}

	span.AddEvent("Checkout finalized, order awaiting payment.")
	return h.executeNext(chkCtx)
}
