package port

import "context"

// StockCache 是可售量读缓存的出站端口。
// 只允许加速读端点：任何写路径都必须回源重新计算，
// 缓存的陈旧永远不能造成写时超卖。
type StockCache interface {
	Get(ctx context.Context, storeID, itemID string) (int, bool)
	Set(ctx context.Context, storeID, itemID string, available int)
	Invalidate(ctx context.Context, storeID, itemID string)
}
