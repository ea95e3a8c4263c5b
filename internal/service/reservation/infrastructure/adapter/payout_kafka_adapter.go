package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"bazaar/internal/pkg/mq"
	"bazaar/internal/service/reservation/domain"
)

// payoutRecord 是分账系统消费的一行预计算输入，按供应商聚合。
type payoutRecord struct {
	OrderID        string `json:"orderId"`
	StoreID        string `json:"storeId"`
	SupplierID     string `json:"supplierId"`
	GrossCents     int64  `json:"grossCents"`
	CostCents      int64  `json:"costCents"`
	MarginCents    int64  `json:"marginCents"`
	OrderCreatedAt string `json:"orderCreatedAt"`
}

// KafkaPayoutAdapter 把订单行按供应商拆成分账记录发给分账系统。
// 尽力而为语义由调用方保证：这里失败只会被记日志。
type KafkaPayoutAdapter struct {
	writer *kafka.Writer
}

func NewKafkaPayoutAdapter(brokers []string, topic string) *KafkaPayoutAdapter {
	return &KafkaPayoutAdapter{writer: mq.NewWriter(brokers, topic)}
}

func (a *KafkaPayoutAdapter) CreateRecords(ctx context.Context, order *domain.Order) error {
	if order == nil || len(order.Items) == 0 {
		return nil
	}

	type bucket struct {
		gross int64
		cost  int64
	}
	bySupplier := make(map[string]*bucket)
	for _, item := range order.Items {
		b, ok := bySupplier[item.SupplierID]
		if !ok {
			b = &bucket{}
			bySupplier[item.SupplierID] = b
		}
		b.gross += item.UnitPriceCents * int64(item.Quantity)
		b.cost += item.UnitCostCents * int64(item.Quantity)
	}

	createdAt := order.CreatedAt.Format(time.RFC3339)
	for supplierID, b := range bySupplier {
		record := payoutRecord{
			OrderID:        order.ID,
			StoreID:        order.StoreID,
			SupplierID:     supplierID,
			GrossCents:     b.gross,
			CostCents:      b.cost,
			MarginCents:    b.gross - b.cost,
			OrderCreatedAt: createdAt,
		}
		value, err := json.Marshal(record)
		if err != nil {
			return errors.Wrapf(err, "marshal payout record for supplier %s", supplierID)
		}
		if err := mq.ProduceMessage(ctx, a.writer, []byte(order.ID), value); err != nil {
			return errors.Wrapf(err, "publish payout record for supplier %s", supplierID)
		}
	}
	return nil
}

func (a *KafkaPayoutAdapter) Close() error {
	return a.writer.Close()
}
