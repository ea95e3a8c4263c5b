package checkout

import (
	"context"

	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/pkg/logger"
)

// CartHoldHandler 负责为每行商品建立购物车预占。
// 创建是 upsert 语义：同一购物车对同一商品的第二次下单请求
// 更新占用数量而不是堆叠第二条记录。
type CartHoldHandler struct {
	NextHandler
}

func (h *CartHoldHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.CartHold")
	defer span.End()

	// 进入写路径之前先挂上兜底补偿：无论后面哪一步失败，
	// 这个购物车名下的所有活跃占用都会被释放。
	chkCtx.AddCompensation(func(compCtx context.Context) {
		compCtx, compSpan := chkCtx.Tracer.Start(compCtx, "checkout.compensation.ReleaseCartHolds")
		defer compSpan.End()

		released, errs := chkCtx.Holds.ReleaseAllForCart(compCtx, chkCtx.CartID)
		for _, err := range errs {
			compSpan.RecordError(err)
			logger.Ctx(compCtx).Error().Err(err).
				Str("cart_id", chkCtx.CartID).
				Msg("compensation: failed to release a cart hold")
		}
		logger.Ctx(compCtx).Info().
			Str("cart_id", chkCtx.CartID).
			Int("released", released).
			Msg("compensation: cart holds released")
	})

	for _, line := range chkCtx.Lines {
		reservation, _, err := chkCtx.Holds.Create(
			ctx,
			chkCtx.StoreID,
			chkCtx.CartID,
			line.SellableItemID,
			chkCtx.CustomerID,
			line.Quantity,
			chkCtx.CartTTL,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cart hold creation failed")
			return err
		}
		line.Reservation = reservation
	}

	span.AddEvent("Cart holds created for all lines.")
	return h.executeNext(chkCtx)
}
