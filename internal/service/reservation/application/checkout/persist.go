package checkout

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
)

// PersistOrderHandler 负责落订单与支付单镜像。
// 订单行携带快照价格：此后任何规则变更都不会回溯影响这张订单。
type PersistOrderHandler struct {
	NextHandler
}

func (h *PersistOrderHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.PersistOrder")
	defer span.End()

	items := make([]domain.OrderItem, 0, len(chkCtx.Lines))
	for _, line := range chkCtx.Lines {
		items = append(items, domain.OrderItem{
			SellableItemID: line.SellableItemID,
			VariantID:      line.Item.VariantID,
			SupplierID:     line.Item.SupplierID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.Priced.UnitPriceCents,
			UnitCostCents:  line.Priced.UnitCostCents,
		})
	}

	order, err := domain.NewOrder(chkCtx.StoreID, chkCtx.CartID, chkCtx.CustomerID, items)
	if err != nil {
		span.RecordError(err)
		return err
	}

	intent, err := domain.NewPaymentIntentRecord(order.ID, chkCtx.StoreID, order.TotalCents)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err := order.AttachPaymentIntent(intent.ID); err != nil {
		span.RecordError(err)
		return err
	}

	if err := chkCtx.Orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		return errors.Wrap(err, "persist order")
	}
	chkCtx.Order = order

	// 订单已经落库：从这里开始，任何失败都必须把这行订单删掉，
	// 留下一张没有库存背书的孤儿订单是正确性破坏。
	chkCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := chkCtx.Tracer.Start(compCtx, "checkout.compensation.DeleteOrder")
		defer compSpan.End()

		if err := chkCtx.PaymentIntents.DeleteByOrderID(compCtx, order.ID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).
				Str("order_id", order.ID).
				Msg("compensation: failed to delete payment intent record")
		}
		if err := chkCtx.Orders.Delete(compCtx, order.ID); err != nil {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).
				Str("order_id", order.ID).
				Msg("compensation: failed to delete orphan order")
		}
	})

	if err := chkCtx.PaymentIntents.Create(ctx, intent); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist payment intent")
		return errors.Wrap(err, "persist payment intent")
	}
	chkCtx.PaymentIntent = intent

	span.AddEvent("Order and payment intent persisted with snapshot prices.")
	return h.executeNext(chkCtx)
}
