package checkout

import (
	"golang.org/x/sync/errgroup"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bazaar/internal/service/reservation/domain"
)

// PricingHandler 负责逐行解析最终售价并校验保护毛利。
// 任何一行校验失败都会中止整个下单，而不是只剔除这一行。
type PricingHandler struct {
	NextHandler
}

func (h *PricingHandler) Handle(chkCtx *Context) error {
	ctx, span := chkCtx.Tracer.Start(chkCtx.Ctx, "checkout.Pricing")
	defer span.End()

	span.SetAttributes(attribute.Int("checkout.lines", len(chkCtx.Lines)))

	// 各行定价相互独立，并发解析
	g, gctx := errgroup.Group{}, ctx
	for _, line := range chkCtx.Lines {
		line := line
		g.Go(func() error {
			priced, err := chkCtx.Pricing.ResolvePrice(gctx, chkCtx.StoreID, line.SellableItemID, line.Quantity, chkCtx.CouponCode)
			if err != nil {
				return errors.Wrapf(domain.ErrExternalService, "pricing for item %s: %v", line.SellableItemID, err)
			}
			line.Priced = priced
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pricing resolution failed")
		return err
	}

	// 毛利底线校验必须在拿到全部报价之后做：低于保护毛利的价格
	// 一律拒绝，不给任何一行放行的机会。
	for _, line := range chkCtx.Lines {
		if err := chkCtx.Markup.Validate(ctx, line.SellableItemID, line.Priced.UnitPriceCents, line.Priced.UnitCostCents); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "markup floor validation failed")
			return err
		}
	}

	span.AddEvent("All lines priced and validated against markup floor.")
	return h.executeNext(chkCtx)
}
