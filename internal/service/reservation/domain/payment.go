package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus 是支付单镜像的支付状态。
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentIntentRecord 镜像支付提供商侧的支付单，与订单一一对应。
// 它的 PaymentStatus 是结算幂等性的状态检查点：
// consume() 只会在从 PENDING 切换到 PAID 的那一次被触发。
type PaymentIntentRecord struct {
	ID            string
	OrderID       string
	StoreID       string
	AmountCents   int64
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPaymentIntentRecord 在下单成功时创建支付单镜像。
func NewPaymentIntentRecord(orderID, storeID string, amountCents int64) (*PaymentIntentRecord, error) {
	if orderID == "" || storeID == "" || amountCents < 0 {
		return nil, ErrValidation
	}
	now := time.Now()
	return &PaymentIntentRecord{
		ID:            uuid.New().String(),
		OrderID:       orderID,
		StoreID:       storeID,
		AmountCents:   amountCents,
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MarkPaid 把支付状态置为 PAID，只允许从 PENDING 出发。
// 已是 PAID 是重复结算的幂等短路；FAILED 之后订单已终结、
// 预占已释放，迟到的成功同样吸收，交给人工对账处理退款。
func (p *PaymentIntentRecord) MarkPaid() bool {
	if p.PaymentStatus != PaymentStatusPending {
		return false
	}
	p.PaymentStatus = PaymentStatusPaid
	p.UpdatedAt = time.Now()
	return true
}

// MarkFailed 把支付状态置为 FAILED。
// 已支付的单子绝不允许被迟到的失败事件拉回来，返回 false。
func (p *PaymentIntentRecord) MarkFailed() bool {
	if p.PaymentStatus != PaymentStatusPending {
		return false
	}
	p.PaymentStatus = PaymentStatusFailed
	p.UpdatedAt = time.Now()
	return true
}

// ProcessedEvent 是支付回调的幂等闸门。
// externalEventID 全局唯一；Processed=true 之后记录不可变。
type ProcessedEvent struct {
	ExternalEventID string
	Processed       bool
	Error           string
	// Payload 保留原始事件 JSON，内部重试时从这里重建事件。
	Payload     string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// MarkProcessed 把事件标记为已处理。
func (e *ProcessedEvent) MarkProcessed() {
	now := time.Now()
	e.Processed = true
	e.Error = ""
	e.ProcessedAt = &now
}

// EventRetry 是处理失败事件的内部重试记录。
// 回调传输层永远确认收到，重试完全由我们自己驱动，
// 不依赖提供商的重复投递。
type EventRetry struct {
	ExternalEventID string
	RetryCount      int
	MaxRetries      int
	NextRetryAt     time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewEventRetry 为一次失败的处理创建重试记录。
func NewEventRetry(externalEventID string, maxRetries int, lastError string) *EventRetry {
	now := time.Now()
	r := &EventRetry{
		ExternalEventID: externalEventID,
		MaxRetries:      maxRetries,
		LastError:       lastError,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.NextRetryAt = now.Add(r.backoff())
	return r
}

// Bump 记录又一次失败，并把下次重试时间按近似指数退避向后推。
func (r *EventRetry) Bump(lastError string) {
	r.RetryCount++
	r.LastError = lastError
	r.UpdatedAt = time.Now()
	r.NextRetryAt = r.UpdatedAt.Add(r.backoff())
}

// Exhausted 判断重试次数是否用尽。
func (r *EventRetry) Exhausted() bool {
	return r.RetryCount >= r.MaxRetries
}

func (r *EventRetry) backoff() time.Duration {
	// 15s, 30s, 1m, 2m, 4m ... 上限 10 分钟
	d := 15 * time.Second << uint(r.RetryCount)
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}
