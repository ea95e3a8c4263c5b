package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"bazaar/internal/pkg/mq"
)

// eventEnvelope 是事实在事件总线上的统一外壳。
// 消费方按 name 路由，payload 保持原始 JSON。
type eventEnvelope struct {
	EventID    string          `json:"eventId"`
	Name       string          `json:"name"`
	StoreID    string          `json:"storeId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// KafkaEventPublisher 把领域事实发到事件总线。
// 按 storeID 做分区键，同一店铺的事实保持有序。
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

func NewKafkaEventPublisher(brokers []string, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: mq.NewWriter(brokers, topic)}
}

func (p *KafkaEventPublisher) Emit(ctx context.Context, name string, payload interface{}, storeID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal payload of %s", name)
	}
	envelope := eventEnvelope{
		EventID:    uuid.New().String(),
		Name:       name,
		StoreID:    storeID,
		OccurredAt: time.Now(),
		Payload:    body,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrapf(err, "marshal envelope of %s", name)
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(storeID), value)
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
