package port

import (
	"context"

	"bazaar/internal/service/reservation/domain"
)

// PayoutService 触发分账记录的预计算。尽力而为：
// 调用失败只记日志，绝不让下单或结算主流程失败。
type PayoutService interface {
	CreateRecords(ctx context.Context, order *domain.Order) error
}
