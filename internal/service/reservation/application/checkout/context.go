package checkout

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

// CartHoldManager 是责任链对购物车预占管理器的窄依赖。
// 由应用层的 ReservationManager 实现。
type CartHoldManager interface {
	Create(ctx context.Context, storeID, cartID, itemID, customerID string, quantity int, ttl time.Duration) (*domain.CartReservation, int, error)
	Confirm(ctx context.Context, reservationID, orderID string) (*domain.CartReservation, error)
	AvailableStock(ctx context.Context, storeID, itemID string) (int, error)
	ReleaseAllForCart(ctx context.Context, cartID string) (int, []error)
}

// Line 是一次下单里的一行商品，责任链逐步填充它的解析结果。
type Line struct {
	SellableItemID string
	Quantity       int

	Item        *domain.SellableItem
	Priced      *port.PricedLine
	Reservation *domain.CartReservation
}

// Context 在下单责任链中传递状态，并累积补偿动作。
type Context struct {
	Ctx    context.Context
	Tracer trace.Tracer

	StoreID    string
	CartID     string
	CustomerID string
	CouponCode string
	Lines      []*Line

	CartTTL  time.Duration
	OrderTTL time.Duration

	Order            *domain.Order
	PaymentIntent    *domain.PaymentIntentRecord
	OrderReservation *domain.OrderInventoryReservation

	// 出站依赖
	Items         domain.SellableItemRepository
	Orders        domain.OrderRepository
	PaymentIntents domain.PaymentIntentRepository
	OrderHolds    domain.OrderReservationRepository
	Holds         CartHoldManager
	Pricing       port.PricingService
	Markup        port.MarkupValidator
	Events        port.EventPublisher
	Payout        port.PayoutService

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 注册一个补偿动作。后注册的先执行（LIFO），
// 保证回滚顺序与前进顺序相反。
func (c *Context) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

// TriggerCompensation 执行所有已注册的补偿动作。
// 补偿失败只记日志，不会向外抛出去盖住原始错误。
func (c *Context) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().
		Str("cart_id", c.CartID).
		Int("compensations", len(c.compensations)).
		Msg("executing checkout compensations")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

// Handler 是责任链节点。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(chkCtx *Context) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(chkCtx *Context) error {
	if h.next != nil {
		return h.next.Handle(chkCtx)
	}
	return nil
}
