package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus 定义了订单的生命周期状态。
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"   // 已落库，等待支付
	OrderStatusPaid      OrderStatus = "PAID"      // 支付成功，库存已消费
	OrderStatusFailed    OrderStatus = "FAILED"    // 支付失败
	OrderStatusCancelled OrderStatus = "CANCELLED" // 用户或系统取消
)

// OrderItem 是下单时的快照行。单价与成本在创建时固化，
// 之后任何定价规则变更都不会回溯影响已下的订单。
type OrderItem struct {
	SellableItemID string
	VariantID      string
	SupplierID     string
	Quantity       int
	UnitPriceCents int64
	UnitCostCents  int64
}

// Order 是订单聚合的根实体。创建之后，状态只允许被支付事件处理器
// （以及本核心之外的取消流程）修改。
type Order struct {
	ID              string
	StoreID         string
	CartID          string
	CustomerID      string
	Items           []OrderItem
	Status          OrderStatus
	PaymentIntentID string
	TotalCents      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder 用快照行创建一个待支付订单。
func NewOrder(storeID, cartID, customerID string, items []OrderItem) (*Order, error) {
	if storeID == "" || cartID == "" || len(items) == 0 {
		return nil, ErrValidation
	}
	var total int64
	for _, it := range items {
		if it.Quantity <= 0 || it.UnitPriceCents < 0 {
			return nil, ErrValidation
		}
		total += it.UnitPriceCents * int64(it.Quantity)
	}
	now := time.Now()
	return &Order{
		ID:         uuid.New().String(),
		StoreID:    storeID,
		CartID:     cartID,
		CustomerID: customerID,
		Items:      items,
		Status:     OrderStatusPending,
		TotalCents: total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AttachPaymentIntent 绑定支付单。只允许在待支付状态下绑定一次。
func (o *Order) AttachPaymentIntent(paymentIntentID string) error {
	if o.Status != OrderStatusPending || o.PaymentIntentID != "" {
		return ErrInvalidStateChange
	}
	o.PaymentIntentID = paymentIntentID
	o.UpdatedAt = time.Now()
	return nil
}

// MarkAsPaid 把订单转入已支付。只能从待支付状态进入。
func (o *Order) MarkAsPaid() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidStateChange
	}
	o.Status = OrderStatusPaid
	o.UpdatedAt = time.Now()
	return nil
}

// MarkAsFailed 把订单转入失败。已支付的订单不允许回退：
// 迟到的失败事件必须在这里被挡住。
func (o *Order) MarkAsFailed() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidStateChange
	}
	o.Status = OrderStatusFailed
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel 取消订单，只有待支付订单可以取消。
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidStateChange
	}
	o.Status = OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}
