package domain

import (
	"context"
	"time"
)

// TransactionManager 在一个存储事务里执行 fn。
// 事务句柄通过 context 向下传递，仓储实现负责识别它；
// fn 返回错误时整个事务回滚。
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// SellableItemRepository 读取在售列表。本核心对它只读。
type SellableItemRepository interface {
	// FindByID 按租户取一条在售列表；跨租户访问等同于不存在。
	FindByID(ctx context.Context, storeID, itemID string) (*SellableItem, error)

	// FindByIDForUpdate 在事务内对在售列表行加排他锁后读取。
	// 抢占写路径靠它把"查可售量 + 写占用"串成同一次原子判定：
	// 同一件商品上的并发创建在这里排队，锁持有到事务结束。
	FindByIDForUpdate(ctx context.Context, storeID, itemID string) (*SellableItem, error)
}

// CartReservationRepository 持久化购物车预占。
type CartReservationRepository interface {
	// UpsertActive 以 (store, cart, item, 活跃) 为键做单条原子的
	// insert-or-replace，保证同购物车同商品至多一条活跃占用。
	// 并发插入触发唯一键冲突时必须返回 ErrReservationConflict，
	// 绝不读改写。
	UpsertActive(ctx context.Context, r *CartReservation) error

	FindByID(ctx context.Context, id string) (*CartReservation, error)

	// Update 保存状态流转结果（confirm/release/extend 之后）。
	Update(ctx context.Context, r *CartReservation) error

	// FindActiveByCart 返回购物车下所有 RESERVED 状态的占用。
	FindActiveByCart(ctx context.Context, cartID string) ([]*CartReservation, error)

	// FindExpired 返回一批已过期但仍处于 RESERVED 的占用，供清扫器释放。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*CartReservation, error)

	// ActiveHoldTotal 聚合某个在售项上未过期的 RESERVED 占用量，租户隔离。
	ActiveHoldTotal(ctx context.Context, storeID, itemID string, now time.Time) (int, error)
}

// OrderRepository 持久化订单聚合。
type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, o *Order) error

	// Delete 只服务于下单补偿：订单级预占失败后删除刚创建的订单行。
	Delete(ctx context.Context, orderID string) error
}

// OrderReservationRepository 持久化订单级库存预占。
type OrderReservationRepository interface {
	// Create 每个订单只允许一条，重复创建返回 ErrReservationConflict。
	Create(ctx context.Context, r *OrderInventoryReservation) error
	FindByOrderID(ctx context.Context, orderID, storeID string) (*OrderInventoryReservation, error)
	Update(ctx context.Context, r *OrderInventoryReservation) error
}

// StockRepository 操作权威的变体库存。
type StockRepository interface {
	// DecrementVariantStock 条件扣减：stock >= qty 才生效，
	// 否则返回 ErrInsufficientStock。必须是单条原子写。
	DecrementVariantStock(ctx context.Context, variantID string, qty int) error
}

// PaymentIntentRepository 持久化支付单镜像。
type PaymentIntentRepository interface {
	Create(ctx context.Context, p *PaymentIntentRecord) error
	FindByOrderID(ctx context.Context, orderID string) (*PaymentIntentRecord, error)
	Update(ctx context.Context, p *PaymentIntentRecord) error

	// DeleteByOrderID 只服务于下单补偿，随订单一起删除镜像行。
	DeleteByOrderID(ctx context.Context, orderID string) error
}

// ProcessedEventRepository 维护幂等闸门与重试记录。
type ProcessedEventRepository interface {
	Find(ctx context.Context, externalEventID string) (*ProcessedEvent, error)

	// Record 在业务处理之前落一条 processed=false 的记录（record-then-process），
	// 已存在时保持原状返回。
	Record(ctx context.Context, e *ProcessedEvent) error

	MarkProcessed(ctx context.Context, externalEventID string) error
	RecordFailure(ctx context.Context, externalEventID string, procErr string) error

	UpsertRetry(ctx context.Context, r *EventRetry) error
	FindRetry(ctx context.Context, externalEventID string) (*EventRetry, error)
	DeleteRetry(ctx context.Context, externalEventID string) error

	// DueRetries 返回一批到期且未用尽次数的重试记录。
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*EventRetry, error)
}
