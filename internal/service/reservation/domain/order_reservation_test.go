package domain

import (
	"errors"
	"testing"
	"time"
)

func testReservedItems() []ReservedItem {
	return []ReservedItem{
		{VariantID: "var1", SupplierID: "sup1", Quantity: 2},
		{VariantID: "var2", SupplierID: "sup2", Quantity: 1},
	}
}

func TestNewOrderInventoryReservation(t *testing.T) {
	r, err := NewOrderInventoryReservation("store1", "order1", testReservedItems(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != OrderReservationReserved {
		t.Errorf("expected RESERVED, got %s", r.Status)
	}

	bad := []ReservedItem{{VariantID: "", Quantity: 1}}
	if _, err := NewOrderInventoryReservation("store1", "order1", bad, time.Minute); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestOrderInventoryReservation_ConsumeOnce(t *testing.T) {
	r, _ := NewOrderInventoryReservation("store1", "order1", testReservedItems(), 30*time.Minute)

	if err := r.Consume(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Consume(); !errors.Is(err, ErrInvalidStateChange) {
		t.Errorf("second consume must be rejected, got %v", err)
	}
	// 消费之后释放也必须被挡住
	if r.Release() {
		t.Error("release after consume must be a no-op")
	}
	if r.Status != OrderReservationConsumed {
		t.Errorf("terminal state mutated to %s", r.Status)
	}
}

func TestOrderInventoryReservation_ReleaseIdempotent(t *testing.T) {
	r, _ := NewOrderInventoryReservation("store1", "order1", testReservedItems(), 30*time.Minute)

	if !r.Release() {
		t.Fatal("first release should transition")
	}
	if r.Release() {
		t.Error("second release must be a no-op")
	}
	if err := r.Consume(); !errors.Is(err, ErrInvalidStateChange) {
		t.Errorf("consume after release must be rejected, got %v", err)
	}
}
