package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/domain"
	"bazaar/internal/service/reservation/domain/port"
)

type settleOutcome int

const (
	outcomeNoop settleOutcome = iota // 幂等短路或迟到事件，无状态变化
	outcomePaid
	outcomeFailed
)

// SettlementProcessor 消费支付提供商的异步回调。
// 同一 externalEventID 的重复投递被幂等闸门静默吸收；
// 同一订单不同事件的乱序（成功后又来失败）由状态检查挡住。
// 处理异常不向传输层传播，由内部重试记录驱动再处理。
type SettlementProcessor struct {
	tx         domain.TransactionManager
	processed  domain.ProcessedEventRepository
	intents    domain.PaymentIntentRepository
	orders     domain.OrderRepository
	orderHolds domain.OrderReservationRepository
	stock      domain.StockRepository

	events port.EventPublisher
	payout port.PayoutService

	maxRetries int
	tracer     trace.Tracer
}

func NewSettlementProcessor(
	tx domain.TransactionManager,
	processed domain.ProcessedEventRepository,
	intents domain.PaymentIntentRepository,
	orders domain.OrderRepository,
	orderHolds domain.OrderReservationRepository,
	stock domain.StockRepository,
	events port.EventPublisher,
	payout port.PayoutService,
	maxRetries int,
	tracer trace.Tracer,
) *SettlementProcessor {
	return &SettlementProcessor{
		tx: tx, processed: processed, intents: intents, orders: orders,
		orderHolds: orderHolds, stock: stock, events: events, payout: payout,
		maxRetries: maxRetries, tracer: tracer,
	}
}

// Process 处理一条已通过签名校验的支付事件。
// 返回的错误只用于内部记账：webhook 传输层无论如何都会确认收到。
func (p *SettlementProcessor) Process(ctx context.Context, evt *domain.PaymentProviderEvent) error {
	ctx, span := p.tracer.Start(ctx, "settlement.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	if evt == nil || evt.EventID == "" || evt.OrderID == "" {
		return domain.ErrValidation
	}
	if evt.Type != domain.PaymentEventSucceeded && evt.Type != domain.PaymentEventFailed {
		return domain.ErrValidation
	}

	span.SetAttributes(
		attribute.String("payment.event_id", evt.EventID),
		attribute.String("payment.event_type", evt.Type),
		attribute.String("order.id", evt.OrderID),
	)

	// 幂等闸门：at-least-once 投递下重复是常态，静默吸收
	existing, err := p.processed.Find(ctx, evt.EventID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return err
	}
	if existing != nil && existing.Processed {
		span.AddEvent("Duplicate delivery absorbed by idempotency gate.")
		metricSettlementEvents.WithLabelValues("duplicate").Inc()
		return nil
	}

	// record-then-process：业务逻辑之前先落 processed=false 的痕迹，
	// 处理中途崩溃留下的是可重试的线索而不是静默缺口
	payload, _ := json.Marshal(evt)
	record := &domain.ProcessedEvent{
		ExternalEventID: evt.EventID,
		Payload:         string(payload),
		ReceivedAt:      time.Now(),
	}
	if err := p.processed.Record(ctx, record); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "record processed-event trace")
	}

	outcome, settleErr := p.settle(ctx, evt)
	if settleErr != nil {
		span.RecordError(settleErr)
		span.SetStatus(codes.Error, "settlement transaction failed")
		metricSettlementEvents.WithLabelValues("error").Inc()
		p.scheduleRetry(ctx, evt, settleErr)
		return errors.Wrapf(domain.ErrSettlementTransaction, "event %s: %v", evt.EventID, settleErr)
	}

	// 事务已提交，才允许把闸门落下
	if err := p.processed.MarkProcessed(ctx, evt.EventID); err != nil {
		// 闸门没落下，最坏情况是内部重试一次、被状态检查短路
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).
			Str("event_id", evt.EventID).
			Msg("failed to mark event processed after commit")
	}
	if err := p.processed.DeleteRetry(ctx, evt.EventID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", evt.EventID).Msg("failed to clear retry record")
	}

	p.afterSettle(ctx, evt, outcome)
	return nil
}

// RecordUnparseable 给签名有效但解析不了的回调留一条对账痕迹。
// 事件 ID 取原始字节的摘要：同一报文的重复投递落在同一条记录上。
// 不登记重试，解析不了的报文重试多少次都解析不了，只能人工处理。
func (p *SettlementProcessor) RecordUnparseable(ctx context.Context, raw []byte) error {
	sum := sha256.Sum256(raw)
	record := &domain.ProcessedEvent{
		ExternalEventID: "unparseable-" + hex.EncodeToString(sum[:8]),
		Payload:         string(raw),
		Error:           "unparseable payload",
		ReceivedAt:      time.Now(),
	}
	metricSettlementEvents.WithLabelValues("unparseable").Inc()
	return p.processed.Record(ctx, record)
}

// settle 在一个事务里完成支付单、订单与订单级预占的状态流转。
func (p *SettlementProcessor) settle(ctx context.Context, evt *domain.PaymentProviderEvent) (settleOutcome, error) {
	outcome := outcomeNoop

	err := p.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		intent, err := p.intents.FindByOrderID(txCtx, evt.OrderID)
		if err != nil {
			return errors.Wrapf(err, "payment intent for order %s", evt.OrderID)
		}
		order, err := p.orders.FindByID(txCtx, evt.OrderID)
		if err != nil {
			return errors.Wrapf(err, "order %s", evt.OrderID)
		}

		switch evt.Type {
		case domain.PaymentEventSucceeded:
			// 已是 PAID：重复结算短路，消费绝不会发生第二次。
			// FAILED 之后的成功也吸收：订单已终结、预占已释放，
			// 这笔钱只能走人工对账退款。
			if !intent.MarkPaid() {
				if intent.PaymentStatus == domain.PaymentStatusFailed {
					logger.Ctx(txCtx).Warn().
						Str("order_id", order.ID).
						Str("event_id", evt.EventID).
						Msg("success event for a failed intent absorbed, refund requires manual reconciliation")
				}
				return nil
			}
			if err := order.MarkAsPaid(); err != nil {
				return errors.Wrapf(err, "order %s cannot transition to paid", order.ID)
			}

			reservation, err := p.orderHolds.FindByOrderID(txCtx, evt.OrderID, order.StoreID)
			if err != nil {
				return errors.Wrapf(err, "inventory reservation for order %s", evt.OrderID)
			}
			if err := reservation.Consume(); err != nil {
				return errors.Wrapf(err, "reservation %s cannot be consumed", reservation.ID)
			}
			// 权威库存扣减：每个订单恰好一次，由上面的单向状态流转守护
			for _, item := range reservation.Items {
				if err := p.stock.DecrementVariantStock(txCtx, item.VariantID, item.Quantity); err != nil {
					return errors.Wrapf(err, "decrement variant %s", item.VariantID)
				}
			}

			if err := p.orderHolds.Update(txCtx, reservation); err != nil {
				return err
			}
			if err := p.orders.Update(txCtx, order); err != nil {
				return err
			}
			if err := p.intents.Update(txCtx, intent); err != nil {
				return err
			}
			outcome = outcomePaid
			return nil

		case domain.PaymentEventFailed:
			// 成功之后迟到的失败必须是 no-op，不允许把订单拉回失败态
			if !intent.MarkFailed() {
				return nil
			}
			if err := order.MarkAsFailed(); err != nil {
				// 订单可能已被取消；占用仍然要释放
				logger.Ctx(txCtx).Warn().Err(err).
					Str("order_id", order.ID).
					Msg("order not in a failable state, releasing reservation anyway")
			}

			reservation, err := p.orderHolds.FindByOrderID(txCtx, evt.OrderID, order.StoreID)
			if err != nil {
				return errors.Wrapf(err, "inventory reservation for order %s", evt.OrderID)
			}
			if reservation.Release() {
				if err := p.orderHolds.Update(txCtx, reservation); err != nil {
					return err
				}
			}

			if err := p.orders.Update(txCtx, order); err != nil {
				return err
			}
			if err := p.intents.Update(txCtx, intent); err != nil {
				return err
			}
			outcome = outcomeFailed
			return nil
		}
		return domain.ErrValidation
	})

	return outcome, err
}

// afterSettle 在事务边界之外做尽力而为的收尾：事实发布与分账触发。
func (p *SettlementProcessor) afterSettle(ctx context.Context, evt *domain.PaymentProviderEvent, outcome settleOutcome) {
	switch outcome {
	case outcomePaid:
		metricSettlementEvents.WithLabelValues("paid").Inc()
		p.emit(ctx, domain.EventOrderPaid, evt, string(domain.OrderStatusPaid))

		order, err := p.orders.FindByID(ctx, evt.OrderID)
		if err == nil {
			if err := p.payout.CreateRecords(ctx, order); err != nil {
				logger.Ctx(ctx).Error().Err(err).
					Str("order_id", evt.OrderID).
					Msg("payout record creation failed, requires manual reconciliation")
			}
		}
	case outcomeFailed:
		metricSettlementEvents.WithLabelValues("failed").Inc()
		p.emit(ctx, domain.EventOrderFailed, evt, string(domain.OrderStatusFailed))
	default:
		metricSettlementEvents.WithLabelValues("noop").Inc()
	}
}

func (p *SettlementProcessor) emit(ctx context.Context, name string, evt *domain.PaymentProviderEvent, status string) {
	event := domain.OrderSettledEvent{
		OrderID:   evt.OrderID,
		StoreID:   evt.StoreID,
		Status:    status,
		SettledAt: time.Now(),
	}
	if err := p.events.Emit(ctx, name, event, evt.StoreID); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("order_id", evt.OrderID).
			Str("event", name).
			Msg("failed to emit settlement fact")
	}
}

// scheduleRetry 为失败的处理登记内部重试，近似指数退避，次数有上限。
func (p *SettlementProcessor) scheduleRetry(ctx context.Context, evt *domain.PaymentProviderEvent, procErr error) {
	if err := p.processed.RecordFailure(ctx, evt.EventID, procErr.Error()); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", evt.EventID).Msg("failed to persist processing error")
	}

	retry, err := p.processed.FindRetry(ctx, evt.EventID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Ctx(ctx).Error().Err(err).Str("event_id", evt.EventID).Msg("failed to load retry record")
			return
		}
		retry = domain.NewEventRetry(evt.EventID, p.maxRetries, procErr.Error())
	} else {
		retry.Bump(procErr.Error())
	}

	if retry.Exhausted() {
		logger.Ctx(ctx).Error().
			Str("event_id", evt.EventID).
			Int("retries", retry.RetryCount).
			Msg("settlement retries exhausted, event parked for manual reconciliation")
	}

	if err := p.processed.UpsertRetry(ctx, retry); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", evt.EventID).Msg("failed to persist retry record")
	}
}
