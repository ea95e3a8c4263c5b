package domain

// SellableItem 是分销商对某个供应商变体的一条在售列表，
// 购物车预占都挂在它上面。SyncedStock 由目录同步进程单向镜像，
// 本核心只读，正式扣减发生在变体的权威库存上（见 StockRepository）。
type SellableItem struct {
	ID         string
	StoreID    string
	VariantID  string
	SupplierID string

	SyncedStock    int
	IsActive       bool
	BasePriceCents int64
	UnitCostCents  int64
}

// AvailableToSell 以给定的活跃预占量计算可售量，下限为 0。
func (s *SellableItem) AvailableToSell(activeHolds int) int {
	available := s.SyncedStock - activeHolds
	if available < 0 {
		return 0
	}
	return available
}
