package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewCartReservation(t *testing.T) {
	r, err := NewCartReservation("store1", "cart1", "item1", "cust1", 2, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != CartReservationReserved {
		t.Errorf("expected status RESERVED, got %s", r.Status)
	}
	if r.ID == "" {
		t.Error("expected a generated ID")
	}
	if !r.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}
}

func TestNewCartReservation_Validation(t *testing.T) {
	cases := []struct {
		name     string
		storeID  string
		cartID   string
		itemID   string
		quantity int
	}{
		{"empty store", "", "cart1", "item1", 1},
		{"empty cart", "store1", "", "item1", 1},
		{"empty item", "store1", "cart1", "", 1},
		{"zero quantity", "store1", "cart1", "item1", 0},
		{"negative quantity", "store1", "cart1", "item1", -3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCartReservation(tc.storeID, tc.cartID, tc.itemID, "cust", tc.quantity, time.Minute)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCartReservation_Confirm(t *testing.T) {
	r, _ := NewCartReservation("store1", "cart1", "item1", "cust1", 1, 15*time.Minute)

	if err := r.Confirm("order1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != CartReservationConfirmed {
		t.Errorf("expected CONFIRMED, got %s", r.Status)
	}
	if r.OrderID != "order1" {
		t.Errorf("expected order binding, got %q", r.OrderID)
	}

	// 终态不可再次确认
	if err := r.Confirm("order2", time.Now()); !errors.Is(err, ErrInvalidStateChange) {
		t.Errorf("expected ErrInvalidStateChange, got %v", err)
	}
}

func TestCartReservation_ConfirmExpired(t *testing.T) {
	r, _ := NewCartReservation("store1", "cart1", "item1", "cust1", 1, time.Minute)

	err := r.Confirm("order1", time.Now().Add(2*time.Minute))
	if !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	if r.Status != CartReservationExpired {
		t.Errorf("expected the expiry transition to land, got %s", r.Status)
	}
	if r.OrderID != "" {
		t.Error("expired reservation must not bind to an order")
	}
}

func TestCartReservation_Extend(t *testing.T) {
	r, _ := NewCartReservation("store1", "cart1", "item1", "cust1", 1, time.Minute)
	before := r.ExpiresAt

	if err := r.Extend(10 * time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.ExpiresAt.Equal(before.Add(10 * time.Minute)) {
		t.Errorf("expected expiry pushed by 10m, got %v", r.ExpiresAt)
	}

	if err := r.Extend(0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for non-positive extension, got %v", err)
	}

	r.Release(ReleaseReasonManual)
	if err := r.Extend(time.Minute); !errors.Is(err, ErrInvalidStateChange) {
		t.Errorf("expected ErrInvalidStateChange on terminal reservation, got %v", err)
	}
}

func TestCartReservation_ReleaseIsIdempotent(t *testing.T) {
	r, _ := NewCartReservation("store1", "cart1", "item1", "cust1", 1, time.Minute)

	if !r.Release(ReleaseReasonCancelled) {
		t.Fatal("first release should change state")
	}
	if r.Status != CartReservationReleased {
		t.Errorf("expected RELEASED, got %s", r.Status)
	}

	// 补偿路径会重复调用，终态上必须是无报错的空操作
	if r.Release(ReleaseReasonCancelled) {
		t.Error("second release must be a no-op")
	}
	if r.Release(ReleaseReasonExpired) {
		t.Error("release with a different reason must not flip the terminal state")
	}
	if r.Status != CartReservationReleased {
		t.Errorf("terminal state mutated to %s", r.Status)
	}
}

func TestCartReservation_ReleaseExpiredReason(t *testing.T) {
	r, _ := NewCartReservation("store1", "cart1", "item1", "cust1", 1, time.Minute)
	if !r.Release(ReleaseReasonExpired) {
		t.Fatal("release should change state")
	}
	if r.Status != CartReservationExpired {
		t.Errorf("expected EXPIRED, got %s", r.Status)
	}
}
