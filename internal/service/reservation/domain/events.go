package domain

import "time"

// 事件名常量，发布到事件总线时使用。
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderFailed        = "order.failed"
	EventReservationExpired = "reservation.expired"
)

// OrderCreatedEvent 是下单成功后对外发布的事实。
type OrderCreatedEvent struct {
	OrderID         string    `json:"orderId"`
	StoreID         string    `json:"storeId"`
	CartID          string    `json:"cartId"`
	CustomerID      string    `json:"customerId,omitempty"`
	TotalCents      int64     `json:"totalCents"`
	PaymentIntentID string    `json:"paymentIntentId"`
	PlacedAt        time.Time `json:"placedAt"`
}

// OrderSettledEvent 是结算完成（成功或失败）后对外发布的事实。
type OrderSettledEvent struct {
	OrderID   string    `json:"orderId"`
	StoreID   string    `json:"storeId"`
	Status    string    `json:"status"`
	SettledAt time.Time `json:"settledAt"`
}

// ReservationExpiredEvent 由清扫器在释放过期占用时发布。
type ReservationExpiredEvent struct {
	ReservationID  string    `json:"reservationId"`
	StoreID        string    `json:"storeId"`
	SellableItemID string    `json:"sellableItemId"`
	Quantity       int       `json:"quantity"`
	ExpiredAt      time.Time `json:"expiredAt"`
}

// 支付提供商回调事件类型。
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
)

// PaymentProviderEvent 是经过签名校验后的回调载体。
// EventID 由提供商生成，是幂等闸门的键；同一订单的不同事件
// 各自有不同的 EventID，乱序到达由状态检查兜底。
type PaymentProviderEvent struct {
	EventID         string `json:"eventId"`
	Type            string `json:"type"`
	OrderID         string `json:"orderId"`
	StoreID         string `json:"storeId"`
	PaymentIntentID string `json:"paymentIntentId"`
	AmountCents     int64  `json:"amountCents"`
}
