package checkout

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
)

// InventoryReserveHandler 在订单落库之后、告知客户端成功之前，
// 针对权威的变体库存建立订单级预占。支付结算消费或释放的就是它。
type InventoryReserveHandler struct {
	NextHandler
}

func (h *InventoryReserveHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.OrderInventoryReserve")
	defer span.End()

	items := make([]domain.ReservedItem, 0, len(chkCtx.Lines))
	for _, line := range chkCtx.Lines {
		items = append(items, domain.ReservedItem{
			VariantID:  line.Item.VariantID,
			SupplierID: line.Item.SupplierID,
			Quantity:   line.Quantity,
		})
	}

	reservation, err := domain.NewOrderInventoryReservation(chkCtx.StoreID, chkCtx.Order.ID, items, chkCtx.OrderTTL)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("order.id", chkCtx.Order.ID),
		attribute.Int("reservation.items", len(items)),
	)

	// 这里失败是唯一的"半途已有持久写入"场景：
	// 订单删除 + 购物车占用释放两段补偿都已经在链上挂好了。
	if err := chkCtx.OrderHolds.Create(ctx, reservation); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order inventory reservation failed")
		return err
	}
	chkCtx.OrderReservation = reservation

	chkCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := chkCtx.Tracer.Start(compCtx, "checkout.compensation.ReleaseOrderReservation")
		defer compSpan.End()

		if reservation.Release() {
			if err := chkCtx.OrderHolds.Update(compCtx, reservation); err != nil {
				compSpan.RecordError(err)
				logger.Ctx(compCtx).Error().Err(err).
					Str("order_id", chkCtx.Order.ID).
					Msg("compensation: failed to release order inventory reservation")
			}
		}
	})

	span.AddEvent("Order-scoped inventory reservation created.")
	return h.executeNext(chkCtx)
}
