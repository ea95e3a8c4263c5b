package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderReservationStatus 定义了订单级库存预占的生命周期状态。
// 状态只能单向流转：RESERVED → CONSUMED 或 RESERVED → RELEASED，
// 终态之间不存在任何转移。
type OrderReservationStatus string

const (
	OrderReservationReserved OrderReservationStatus = "RESERVED"
	OrderReservationConsumed OrderReservationStatus = "CONSUMED"
	OrderReservationReleased OrderReservationStatus = "RELEASED"
)

// ReservedItem 是订单级预占中的一行，落在权威的变体库存上。
type ReservedItem struct {
	VariantID  string
	SupplierID string
	Quantity   int
}

// OrderInventoryReservation 是支付结算消费或释放的那一份粗粒度占用，
// 每个订单恰好一条。
type OrderInventoryReservation struct {
	ID        string
	OrderID   string
	StoreID   string
	Items     []ReservedItem
	Status    OrderReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrderInventoryReservation 创建一条订单级预占。
func NewOrderInventoryReservation(storeID, orderID string, items []ReservedItem, ttl time.Duration) (*OrderInventoryReservation, error) {
	if storeID == "" || orderID == "" || len(items) == 0 {
		return nil, ErrValidation
	}
	for _, it := range items {
		if it.VariantID == "" || it.Quantity <= 0 {
			return nil, ErrValidation
		}
	}
	now := time.Now()
	return &OrderInventoryReservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		StoreID:   storeID,
		Items:     items,
		Status:    OrderReservationReserved,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Consume 把预占转入 CONSUMED。权威库存的扣减由调用方在同一事务里完成，
// 这里只守住"不能从终态再消费"这条不变式。
func (r *OrderInventoryReservation) Consume() error {
	if r.Status != OrderReservationReserved {
		return ErrInvalidStateChange
	}
	r.Status = OrderReservationConsumed
	r.UpdatedAt = time.Now()
	return nil
}

// Release 把预占转入 RELEASED，不触碰任何库存。
// 对终态记录是幂等空操作，返回值表示状态是否真的变化。
func (r *OrderInventoryReservation) Release() bool {
	if r.Status != OrderReservationReserved {
		return false
	}
	r.Status = OrderReservationReleased
	r.UpdatedAt = time.Now()
	return true
}
