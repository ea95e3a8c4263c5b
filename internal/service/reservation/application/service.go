package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/application/checkout"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

// CheckoutService 编排一次下单：定价 → 库存预检 → 购物车占用 →
// 订单落库 → 订单级预占 → 收尾。每一步都可能失败，失败时补偿链
// 保证不留下任何半成品写入。
type CheckoutService struct {
	items          domain.SellableItemRepository
	orders         domain.OrderRepository
	paymentIntents domain.PaymentIntentRepository
	orderHolds     domain.OrderReservationRepository

	holds   *ReservationManager
	pricing port.PricingService
	markup  port.MarkupValidator
	events  port.EventPublisher
	payout  port.PayoutService

	cartTTL         time.Duration
	orderTTL        time.Duration
	checkoutTimeout time.Duration
	tracer          trace.Tracer
}

func NewCheckoutService(
	items domain.SellableItemRepository,
	orders domain.OrderRepository,
	paymentIntents domain.PaymentIntentRepository,
	orderHolds domain.OrderReservationRepository,
	holds *ReservationManager,
	pricing port.PricingService,
	markup port.MarkupValidator,
	events port.EventPublisher,
	payout port.PayoutService,
	cartTTL, orderTTL, checkoutTimeout time.Duration,
	tracer trace.Tracer,
) *CheckoutService {
	return &CheckoutService{
		items: items, orders: orders, paymentIntents: paymentIntents, orderHolds: orderHolds,
		holds: holds, pricing: pricing, markup: markup, events: events, payout: payout,
		cartTTL: cartTTL, orderTTL: orderTTL, checkoutTimeout: checkoutTimeout, tracer: tracer,
	}
}

// Checkout 执行一次完整的下单流水线。
// 同步失败（定价、校验、库存）在补偿之后原样返回给调用方；
// 补偿自身的失败只记日志，绝不盖住原始错误。
func (s *CheckoutService) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.Checkout")
	defer span.End()

	if err := validateCheckoutRequest(req); err != nil {
		span.SetStatus(codes.Error, "invalid checkout request")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("store.id", req.StoreID),
		attribute.String("cart.id", req.CartID),
		attribute.Int("lines", len(req.Items)),
	)

	// 每次下单有独立的处理超时
	processingCtx, cancel := context.WithTimeout(ctx, s.checkoutTimeout)
	defer cancel()

	lines := make([]*checkout.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, &checkout.Line{
			SellableItemID: item.SellableItemID,
			Quantity:       item.Quantity,
		})
	}

	chkCtx := &checkout.Context{
		Ctx:    processingCtx,
		Tracer: s.tracer,

		StoreID:    req.StoreID,
		CartID:     req.CartID,
		CustomerID: req.CustomerID,
		CouponCode: req.CouponCode,
		Lines:      lines,

		CartTTL:  s.cartTTL,
		OrderTTL: s.orderTTL,

		Items:          s.items,
		Orders:         s.orders,
		PaymentIntents: s.paymentIntents,
		OrderHolds:     s.orderHolds,
		Holds:          s.holds,
		Pricing:        s.pricing,
		Markup:         s.markup,
		Events:         s.events,
		Payout:         s.payout,
	}

	chain := buildCheckoutChain()

	if err := chain.Handle(chkCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout chain failed")
		logger.Ctx(ctx).Error().Err(err).
			Str("cart_id", req.CartID).
			Msg("checkout failed, compensations triggered")

		// 补偿使用外层 ctx：processingCtx 可能已经超时，
		// 回滚动作不能因此被砍掉
		chkCtx.TriggerCompensation(ctx)
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", chkCtx.Order.ID).
		Str("cart_id", req.CartID).
		Int64("total_cents", chkCtx.Order.TotalCents).
		Msg("checkout succeeded, order pending payment")

	return &CheckoutResponse{
		OrderID:         chkCtx.Order.ID,
		PaymentIntentID: chkCtx.Order.PaymentIntentID,
		TotalCents:      chkCtx.Order.TotalCents,
		Status:          string(chkCtx.Order.Status),
	}, nil
}

// buildCheckoutChain 组装责任链。顺序即流水线顺序。
func buildCheckoutChain() checkout.Handler {
	pricing := &checkout.PricingHandler{}
	stock := &checkout.StockCheckHandler{}
	hold := &checkout.CartHoldHandler{}
	persist := &checkout.PersistOrderHandler{}
	reserve := &checkout.InventoryReserveHandler{}
	finalize := &checkout.FinalizeHandler{}

	pricing.SetNext(stock).SetNext(hold).SetNext(persist).SetNext(reserve).SetNext(finalize)
	return pricing
}

func validateCheckoutRequest(req *CheckoutRequest) error {
	if req == nil || req.StoreID == "" || req.CartID == "" || len(req.Items) == 0 {
		return domain.ErrValidation
	}
	for _, item := range req.Items {
		if item.SellableItemID == "" || item.Quantity <= 0 {
			return domain.ErrValidation
		}
	}
	return nil
}
