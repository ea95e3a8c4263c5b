package checkout

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/service/reservation/domain"
)

// StockCheckHandler 负责读时可售量预检。
// 这里的读取只是即时估计，真正的仲裁发生在下一步的原子 upsert；
// 预检的价值是让明显不可能成功的请求不去碰写路径。
type StockCheckHandler struct {
	NextHandler
}

func (h *StockCheckHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.StockCheck")
	defer span.End()

	for _, line := range chkCtx.Lines {
		item, err := chkCtx.Items.FindByID(ctx, chkCtx.StoreID, line.SellableItemID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sellable item lookup failed")
			return err
		}
		if !item.IsActive {
			span.SetStatus(codes.Error, "sellable item inactive")
			return domain.ErrNotFound
		}
		line.Item = item

		available, err := chkCtx.Holds.AvailableStock(ctx, chkCtx.StoreID, line.SellableItemID)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if available < line.Quantity {
			span.SetAttributes(
				attribute.String("item.id", line.SellableItemID),
				attribute.Int("stock.available", available),
				attribute.Int("stock.requested", line.Quantity),
			)
			span.SetStatus(codes.Error, "insufficient stock")
			return &domain.InsufficientStockError{Available: available, Requested: line.Quantity}
		}
	}

	span.AddEvent("All lines passed the read-time availability check.")
	return h.executeNext(chkCtx)
}
