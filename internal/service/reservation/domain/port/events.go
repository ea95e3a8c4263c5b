package port

import "context"

// EventPublisher 是事件总线的出站端口，fire-and-forget 语义。
type EventPublisher interface {
	// Emit 发布一条带租户标识的事实。
	Emit(ctx context.Context, name string, payload interface{}, storeID string) error
}
