package infrastructure

import "time"

// SellableItemModel 是店铺可售品的数据库映射，库存镜像由同步管道维护。
type SellableItemModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	StoreID        string `gorm:"size:64;index:idx_store_item"`
	VariantID      string `gorm:"size:36;index"`
	SupplierID     string `gorm:"size:36"`
	SyncedStock    int
	IsActive       bool
	BasePriceCents int64
	UnitCostCents  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (SellableItemModel) TableName() string { return "sellable_items" }

// VariantModel 持有供应商侧的权威库存。
type VariantModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	SupplierID string `gorm:"size:36;index"`
	Stock      int
	UpdatedAt  time.Time
}

func (VariantModel) TableName() string { return "variants" }

// CartReservationModel 的 active 列只在占用处于 RESERVED 时为 true，
// 终态置 NULL。MySQL 唯一索引对 NULL 不去重，于是
// (store_id, cart_id, sellable_item_id, active) 恰好约束
// "同一购物车对同一商品至多一条活跃占用"，历史终态行不受影响。
type CartReservationModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	StoreID        string `gorm:"size:64;uniqueIndex:idx_active_hold"`
	CartID         string `gorm:"size:64;uniqueIndex:idx_active_hold"`
	SellableItemID string `gorm:"size:36;uniqueIndex:idx_active_hold;index:idx_item_expiry"`
	Active         *bool  `gorm:"uniqueIndex:idx_active_hold"`
	CustomerID     string `gorm:"size:64"`
	Quantity       int
	Status         string    `gorm:"size:16;index"`
	OrderID        string    `gorm:"size:36"`
	ExpiresAt      time.Time `gorm:"index:idx_item_expiry"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CartReservationModel) TableName() string { return "cart_reservations" }

type OrderModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	StoreID         string `gorm:"size:64;index"`
	CartID          string `gorm:"size:64;index"`
	CustomerID      string `gorm:"size:64"`
	Status          string `gorm:"size:16;index"`
	TotalCents      int64
	PaymentIntentID string `gorm:"size:36"`
	ItemsJSON       string `gorm:"type:json"` // 下单时刻的行项目快照
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (OrderModel) TableName() string { return "orders" }

type PaymentIntentModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	OrderID     string `gorm:"size:36;uniqueIndex"`
	StoreID     string `gorm:"size:64"`
	AmountCents int64
	Status      string `gorm:"size:16"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PaymentIntentModel) TableName() string { return "payment_intents" }

// OrderReservationModel 的 (order_id, store_id) 唯一索引就是
// "每订单至多一份订单级预占" 的落地，重复创建走 1062 报冲突。
type OrderReservationModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	OrderID   string `gorm:"size:36;uniqueIndex:idx_order_store"`
	StoreID   string `gorm:"size:64;uniqueIndex:idx_order_store"`
	Status    string `gorm:"size:16;index"`
	ItemsJSON string `gorm:"type:json"`
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderReservationModel) TableName() string { return "order_inventory_reservations" }

// ProcessedEventModel 是结算幂等闸门的持久化形态，主键即外部事件 ID。
type ProcessedEventModel struct {
	ExternalEventID string `gorm:"primaryKey;size:64"`
	Processed       bool   `gorm:"index"`
	Error           string `gorm:"type:text"`
	Payload         string `gorm:"type:json"`
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}

func (ProcessedEventModel) TableName() string { return "processed_events" }

type EventRetryModel struct {
	ExternalEventID string `gorm:"primaryKey;size:64"`
	RetryCount      int
	MaxRetries      int
	NextRetryAt     time.Time `gorm:"index"`
	LastError       string    `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (EventRetryModel) TableName() string { return "event_retries" }
