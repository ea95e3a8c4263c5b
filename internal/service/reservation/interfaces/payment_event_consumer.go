package interfaces

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/service/reservation/application"
	"bazaar/internal/service/reservation/domain"
)

// PaymentEventConsumer 从内部支付事件流消费结算事件，
// 和 webhook 是同一套处理逻辑的两个入口：幂等闸门保证
// 双路投递同一事件也只结算一次。
type PaymentEventConsumer struct {
	reader    *kafka.Reader
	processor *application.SettlementProcessor
}

func NewPaymentEventConsumer(brokers []string, topic, groupID string, processor *application.SettlementProcessor) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		reader:    mq.NewReader(brokers, topic, groupID),
		processor: processor,
	}
}

// Run 阻塞消费直到 ctx 取消。消息无论处理成败都提交位点：
// 处理失败已经由内部重试接管，卡住分区只会放大故障。
func (c *PaymentEventConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("failed to fetch payment event")
			continue
		}
		c.handle(ctx, &msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("failed to commit payment event offset")
		}
	}
}

func (c *PaymentEventConsumer) handle(ctx context.Context, msg *kafka.Message) {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &carrier)

	var evt domain.PaymentProviderEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("unparseable payment event from stream")
		if recErr := c.processor.RecordUnparseable(ctx, msg.Value); recErr != nil {
			logger.Ctx(ctx).Error().Err(recErr).Msg("failed to record unparseable payment event")
		}
		return
	}
	if err := c.processor.Process(ctx, &evt); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("event_id", evt.EventID).
			Msg("settlement deferred to internal retry")
	}
}

func (c *PaymentEventConsumer) Close() error {
	return c.reader.Close()
}
