package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"bazaar/internal/service/reservation/domain"
)

type settleEnv struct {
	processed  *fakeProcessedRepo
	intents    *fakeIntentRepo
	orders     *fakeOrderRepo
	orderHolds *fakeOrderHoldRepo
	stock      *fakeStockRepo
	events     *fakeEventPublisher
	payout     *fakePayout
	processor  *SettlementProcessor

	order *domain.Order
}

func newSettleEnv(t *testing.T) *settleEnv {
	t.Helper()
	env := &settleEnv{
		processed:  newFakeProcessedRepo(),
		intents:    newFakeIntentRepo(),
		orders:     newFakeOrderRepo(),
		orderHolds: newFakeOrderHoldRepo(),
		stock:      newFakeStockRepo(),
		events:     &fakeEventPublisher{},
		payout:     &fakePayout{},
	}
	ctx := context.Background()

	env.order = &domain.Order{
		ID: "order1", StoreID: "store1", CartID: "cart1", CustomerID: "cust1",
		Status: domain.OrderStatusPending, PaymentIntentID: "pi1", TotalCents: 3500,
		Items: []domain.OrderItem{
			{SellableItemID: "item1", VariantID: "var1", SupplierID: "sup1", Quantity: 2, UnitPriceCents: 1500, UnitCostCents: 600},
			{SellableItemID: "item2", VariantID: "var2", SupplierID: "sup2", Quantity: 1, UnitPriceCents: 500, UnitCostCents: 300},
		},
	}
	if err := env.orders.Create(ctx, env.order); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	intent := &domain.PaymentIntentRecord{
		ID: "pi1", OrderID: "order1", StoreID: "store1",
		AmountCents: 3500, PaymentStatus: domain.PaymentStatusPending,
	}
	if err := env.intents.Create(ctx, intent); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	reservation, err := domain.NewOrderInventoryReservation("store1", "order1", []domain.ReservedItem{
		{VariantID: "var1", SupplierID: "sup1", Quantity: 2},
		{VariantID: "var2", SupplierID: "sup2", Quantity: 1},
	}, 30*time.Minute)
	if err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	if err := env.orderHolds.Create(ctx, reservation); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	env.stock.stock["var1"] = 10
	env.stock.stock["var2"] = 10

	env.processor = NewSettlementProcessor(
		fakeTxManager{}, env.processed, env.intents, env.orders, env.orderHolds, env.stock,
		env.events, env.payout, 3, otel.Tracer("test"),
	)
	return env
}

func succeededEvent(id string) *domain.PaymentProviderEvent {
	return &domain.PaymentProviderEvent{
		EventID: id, Type: domain.PaymentEventSucceeded,
		OrderID: "order1", StoreID: "store1", PaymentIntentID: "pi1", AmountCents: 3500,
	}
}

func failedEvent(id string) *domain.PaymentProviderEvent {
	return &domain.PaymentProviderEvent{
		EventID: id, Type: domain.PaymentEventFailed,
		OrderID: "order1", StoreID: "store1", PaymentIntentID: "pi1", AmountCents: 3500,
	}
}

func TestSettlement_Success(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	if err := env.processor.Process(ctx, succeededEvent("evt-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("expected PAID, got %s", order.Status)
	}
	reservation, _ := env.orderHolds.FindByOrderID(ctx, "order1", "store1")
	if reservation.Status != domain.OrderReservationConsumed {
		t.Errorf("expected CONSUMED, got %s", reservation.Status)
	}
	if env.stock.stock["var1"] != 8 || env.stock.stock["var2"] != 9 {
		t.Errorf("expected stock 8/9, got %d/%d", env.stock.stock["var1"], env.stock.stock["var2"])
	}

	record, err := env.processed.Find(ctx, "evt-1")
	if err != nil || !record.Processed {
		t.Errorf("expected event marked processed, got %+v (%v)", record, err)
	}

	names := env.events.names()
	if len(names) != 1 || names[0] != domain.EventOrderPaid {
		t.Errorf("expected a single order.paid fact, got %v", names)
	}
	if len(env.payout.orders) != 1 || env.payout.orders[0] != "order1" {
		t.Errorf("expected payout triggered for order1, got %v", env.payout.orders)
	}
}

func TestSettlement_DuplicateDeliveriesAreAbsorbed(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := env.processor.Process(ctx, succeededEvent("evt-1")); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i+1, err)
		}
	}

	// K 次投递，恰好一次消费
	if env.stock.decrements["var1"] != 2 {
		t.Errorf("expected exactly one decrement of 2, got total %d", env.stock.decrements["var1"])
	}
	names := env.events.names()
	if len(names) != 1 {
		t.Errorf("expected a single settlement fact, got %v", names)
	}
}

func TestSettlement_RepeatSuccessWithNewEventID(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	if err := env.processor.Process(ctx, succeededEvent("evt-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 同一订单的第二个成功事件（不同 EventID）由状态检查短路
	if err := env.processor.Process(ctx, succeededEvent("evt-2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.stock.decrements["var1"] != 2 {
		t.Errorf("consumption happened twice: decrements %d", env.stock.decrements["var1"])
	}
	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("expected PAID, got %s", order.Status)
	}
}

func TestSettlement_Failure(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	if err := env.processor.Process(ctx, failedEvent("evt-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("expected FAILED, got %s", order.Status)
	}
	reservation, _ := env.orderHolds.FindByOrderID(ctx, "order1", "store1")
	if reservation.Status != domain.OrderReservationReleased {
		t.Errorf("expected RELEASED, got %s", reservation.Status)
	}
	// 失败结算绝不触碰权威库存
	if env.stock.stock["var1"] != 10 || env.stock.stock["var2"] != 10 {
		t.Errorf("stock must be untouched, got %d/%d", env.stock.stock["var1"], env.stock.stock["var2"])
	}

	names := env.events.names()
	if len(names) != 1 || names[0] != domain.EventOrderFailed {
		t.Errorf("expected a single order.failed fact, got %v", names)
	}
	if len(env.payout.orders) != 0 {
		t.Errorf("payout must not trigger on failure, got %v", env.payout.orders)
	}
}

func TestSettlement_StaleFailureAfterPaidIsNoop(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	if err := env.processor.Process(ctx, succeededEvent("evt-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 成功之后迟到的失败：吸收、不回退任何状态
	if err := env.processor.Process(ctx, failedEvent("evt-2")); err != nil {
		t.Fatalf("stale failure must be absorbed, got %v", err)
	}

	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("order regressed to %s", order.Status)
	}
	reservation, _ := env.orderHolds.FindByOrderID(ctx, "order1", "store1")
	if reservation.Status != domain.OrderReservationConsumed {
		t.Errorf("reservation regressed to %s", reservation.Status)
	}
	if env.stock.stock["var1"] != 8 {
		t.Errorf("stock changed by stale failure: %d", env.stock.stock["var1"])
	}

	record, _ := env.processed.Find(ctx, "evt-2")
	if record == nil || !record.Processed {
		t.Error("stale event must still be marked processed")
	}
}

func TestSettlement_StaleSuccessAfterFailureIsNoop(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	if err := env.processor.Process(ctx, failedEvent("evt-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 失败落定之后迟到的成功：吸收并标记已处理，不空转重试
	if err := env.processor.Process(ctx, succeededEvent("evt-2")); err != nil {
		t.Fatalf("stale success must be absorbed, got %v", err)
	}

	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("order moved to %s on a stale success", order.Status)
	}
	reservation, _ := env.orderHolds.FindByOrderID(ctx, "order1", "store1")
	if reservation.Status != domain.OrderReservationReleased {
		t.Errorf("reservation moved to %s on a stale success", reservation.Status)
	}
	if env.stock.stock["var1"] != 10 {
		t.Errorf("stock consumed by stale success: %d", env.stock.stock["var1"])
	}

	record, _ := env.processed.Find(ctx, "evt-2")
	if record == nil || !record.Processed {
		t.Error("stale success must still be marked processed")
	}
	if _, err := env.processed.FindRetry(ctx, "evt-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("stale success must not schedule retries")
	}
}

func TestSettlement_UnknownOrderSchedulesRetry(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	evt := succeededEvent("evt-1")
	evt.OrderID = "ghost"

	err := env.processor.Process(ctx, evt)
	if !errors.Is(err, domain.ErrSettlementTransaction) {
		t.Fatalf("expected ErrSettlementTransaction, got %v", err)
	}

	record, findErr := env.processed.Find(ctx, "evt-1")
	if findErr != nil {
		t.Fatalf("record-then-process trace missing: %v", findErr)
	}
	if record.Processed {
		t.Error("failed event must not be marked processed")
	}
	if record.Error == "" {
		t.Error("expected failure reason recorded")
	}

	retry, findErr := env.processed.FindRetry(ctx, "evt-1")
	if findErr != nil {
		t.Fatalf("expected retry scheduled: %v", findErr)
	}
	if retry.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", retry.MaxRetries)
	}
}

func TestSettlement_Validation(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	cases := []*domain.PaymentProviderEvent{
		nil,
		{},
		{EventID: "evt-1", OrderID: "order1", Type: "payment.unknown"},
		{EventID: "", OrderID: "order1", Type: domain.PaymentEventSucceeded},
	}
	for _, evt := range cases {
		if err := env.processor.Process(ctx, evt); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", evt, err)
		}
	}
}

func TestRetryWorker_RedrivesFailedEvent(t *testing.T) {
	env := newSettleEnv(t)
	ctx := context.Background()

	// 先让订单查不到，制造一次处理失败
	if err := env.orders.Delete(ctx, "order1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := env.processor.Process(ctx, succeededEvent("evt-1")); err == nil {
		t.Fatal("expected processing failure")
	}

	// 订单恢复，重试到期
	if err := env.orders.Create(ctx, env.order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	retry, err := env.processed.FindRetry(ctx, "evt-1")
	if err != nil {
		t.Fatalf("expected retry record: %v", err)
	}
	retry.NextRetryAt = time.Now().Add(-time.Second)
	if err := env.processed.UpsertRetry(ctx, retry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	worker := NewSettlementRetryWorker(env.processed, env.processor, time.Minute, 10)
	worker.RunOnce(ctx)

	record, err := env.processed.Find(ctx, "evt-1")
	if err != nil || !record.Processed {
		t.Fatalf("expected event settled on retry, got %+v (%v)", record, err)
	}
	order, _ := env.orders.FindByID(ctx, "order1")
	if order.Status != domain.OrderStatusPaid {
		t.Errorf("expected PAID after redrive, got %s", order.Status)
	}
	if env.stock.stock["var1"] != 8 {
		t.Errorf("expected stock decremented once, got %d", env.stock.stock["var1"])
	}
	if _, err := env.processed.FindRetry(ctx, "evt-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("expected retry record cleared after success")
	}
}
