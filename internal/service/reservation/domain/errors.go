package domain

import (
	"errors"
	"fmt"
)

// 领域层错误哨兵。接口层根据这些哨兵映射 HTTP 状态码，
// 应用层根据它们决定是否补偿、是否可重试。
var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrReservationConflict   = errors.New("concurrent reservation conflict")
	ErrReservationExpired    = errors.New("reservation expired")
	ErrInvalidStateChange    = errors.New("invalid state transition")
	ErrExternalService       = errors.New("external service failure")
	ErrSettlementTransaction = errors.New("settlement transaction failed")
)

// InsufficientStockError 携带可售量与请求量，方便调用方直接提示用户。
// errors.Is(err, ErrInsufficientStock) 对它成立。
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// CompensationError 表示补偿动作本身失败。
// 它只用于日志与人工对账，绝不允许覆盖原始错误向上传播。
type CompensationError struct {
	Step    string
	Wrapped error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation %q failed: %v", e.Step, e.Wrapped)
}

func (e *CompensationError) Unwrap() error { return e.Wrapped }
