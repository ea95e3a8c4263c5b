package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartReservationStatus 定义了购物车预占的生命周期状态。
type CartReservationStatus string

const (
	CartReservationReserved  CartReservationStatus = "RESERVED"  // 占用中，占用量计入可售量扣除
	CartReservationConfirmed CartReservationStatus = "CONFIRMED" // 已绑定订单
	CartReservationReleased  CartReservationStatus = "RELEASED"  // 主动释放
	CartReservationExpired   CartReservationStatus = "EXPIRED"   // 超时释放
)

// ReleaseReason 决定释放后落入哪个终态。
type ReleaseReason string

const (
	ReleaseReasonCancelled ReleaseReason = "cancelled"
	ReleaseReasonExpired   ReleaseReason = "expired"
	ReleaseReasonManual    ReleaseReason = "manual"
)

// CartReservation 是一条购物车粒度的短时库存占用。
// 同一 (store, cart, item) 在 RESERVED 状态下至多存在一条，
// 这一约束由存储层唯一索引保证，领域层只负责状态流转的合法性。
type CartReservation struct {
	ID             string
	StoreID        string
	CartID         string
	SellableItemID string
	Quantity       int
	Status         CartReservationStatus
	ExpiresAt      time.Time
	CustomerID     string
	OrderID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewCartReservation 创建一条新的占用记录。
func NewCartReservation(storeID, cartID, itemID, customerID string, quantity int, ttl time.Duration) (*CartReservation, error) {
	if storeID == "" || cartID == "" || itemID == "" || quantity <= 0 {
		return nil, ErrValidation
	}
	now := time.Now()
	return &CartReservation{
		ID:             uuid.New().String(),
		StoreID:        storeID,
		CartID:         cartID,
		SellableItemID: itemID,
		Quantity:       quantity,
		Status:         CartReservationReserved,
		ExpiresAt:      now.Add(ttl),
		CustomerID:     customerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal 判断是否已进入不可变终态。
func (r *CartReservation) IsTerminal() bool {
	return r.Status != CartReservationReserved
}

// IsExpired 判断占用是否已过期（仅对 RESERVED 状态有意义）。
func (r *CartReservation) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Extend 把过期时间向后顺延。只有 RESERVED 状态可以续期，
// 续期不会增加占用数量，所以不需要重新校验库存。
func (r *CartReservation) Extend(additional time.Duration) error {
	if r.Status != CartReservationReserved {
		return ErrInvalidStateChange
	}
	if additional <= 0 {
		return ErrValidation
	}
	r.ExpiresAt = r.ExpiresAt.Add(additional)
	r.UpdatedAt = time.Now()
	return nil
}

// Confirm 把占用绑定到订单。过期的占用会被顺手转入 EXPIRED，
// 调用方会收到 ErrReservationExpired，并需要把这次转移持久化。
func (r *CartReservation) Confirm(orderID string, now time.Time) error {
	if r.Status != CartReservationReserved {
		return ErrInvalidStateChange
	}
	if r.IsExpired(now) {
		r.Status = CartReservationExpired
		r.UpdatedAt = now
		return ErrReservationExpired
	}
	r.Status = CartReservationConfirmed
	r.OrderID = orderID
	r.UpdatedAt = now
	return nil
}

// Release 按原因释放占用。对已经处于终态的记录是幂等空操作：
// 补偿路径可能对同一条记录调用多次 release，不能报错。
// 返回值表示状态是否真的发生了变化。
func (r *CartReservation) Release(reason ReleaseReason) bool {
	if r.IsTerminal() {
		return false
	}
	switch reason {
	case ReleaseReasonExpired:
		r.Status = CartReservationExpired
	default:
		r.Status = CartReservationReleased
	}
	r.UpdatedAt = time.Now()
	return true
}
