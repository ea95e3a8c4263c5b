package port

import "context"

// PricedLine 是定价链（基准价 → 店铺覆盖 → 动态定价 → 折扣/优惠券）
// 对一行商品的最终结论。
type PricedLine struct {
	UnitPriceCents int64            `json:"unitPriceCents"`
	UnitCostCents  int64            `json:"unitCostCents"`
	Breakdown      map[string]int64 `json:"breakdown,omitempty"`
}

// PricingService 是定价引擎的出站端口。引擎本身在本核心之外。
type PricingService interface {
	// ResolvePrice 解析一行商品的最终售价。
	ResolvePrice(ctx context.Context, storeID, itemID string, quantity int, couponCode string) (*PricedLine, error)
}

// MarkupValidator 校验报价没有击穿保护毛利（markup floor）。
type MarkupValidator interface {
	// Validate 不通过时返回包了 ErrValidation 的错误，并说明原因。
	Validate(ctx context.Context, itemID string, proposedPriceCents, costCents int64) error
}
