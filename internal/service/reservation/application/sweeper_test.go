package application

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"bazaar/internal/service/reservation/domain"
)

func newTestSweeper(holds *fakeHoldRepo, manager *ReservationManager, events *fakeEventPublisher) *ExpirySweeper {
	return NewExpirySweeper(
		holds, manager, events, &fakeElector{leader: true},
		time.Second, 100, 4, otel.Tracer("test"),
	)
}

func TestSweeper_ReleasesExpiredHolds(t *testing.T) {
	manager, _, holds, _ := newTestManager(10)
	events := &fakeEventPublisher{}
	sweeper := newTestSweeper(holds, manager, events)
	ctx := context.Background()

	// 两条过期，一条仍然活跃
	for i, ttl := range []time.Duration{-time.Minute, -time.Second, time.Hour} {
		cart := []string{"cart1", "cart2", "cart3"}[i]
		if _, _, err := manager.Create(ctx, "store1", cart, "item1", "cust1", 2, ttl); err != nil {
			t.Fatalf("seed hold: %v", err)
		}
	}

	result := sweeper.RunOnce(ctx)
	if result.Expired != 2 {
		t.Errorf("expected 2 expired, got %d", result.Expired)
	}
	if result.Released != 2 {
		t.Errorf("expected 2 released, got %d", result.Released)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}

	// 清扫之后：活跃的那条还在，过期的都转入 EXPIRED
	active, _ := holds.FindActiveByCart(ctx, "cart3")
	if len(active) != 1 {
		t.Errorf("live hold must survive the sweep, got %d", len(active))
	}
	expired, _ := holds.FindExpired(ctx, time.Now(), 100)
	if len(expired) != 0 {
		t.Errorf("expected no expired holds left, got %d", len(expired))
	}

	// 可售量恢复：10 - 活跃的 2
	available, _ := manager.AvailableStock(ctx, "store1", "item1")
	if available != 8 {
		t.Errorf("expected availability 8, got %d", available)
	}

	names := events.names()
	if len(names) != 2 {
		t.Fatalf("expected 2 reservation.expired facts, got %v", names)
	}
	for _, name := range names {
		if name != domain.EventReservationExpired {
			t.Errorf("unexpected fact %s", name)
		}
	}
}

func TestSweeper_EmptyRun(t *testing.T) {
	manager, _, holds, _ := newTestManager(10)
	events := &fakeEventPublisher{}
	sweeper := newTestSweeper(holds, manager, events)

	result := sweeper.RunOnce(context.Background())
	if result.Expired != 0 || result.Released != 0 || len(result.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestSweeper_SweepIsIdempotent(t *testing.T) {
	manager, _, holds, _ := newTestManager(10)
	events := &fakeEventPublisher{}
	sweeper := newTestSweeper(holds, manager, events)
	ctx := context.Background()

	if _, _, err := manager.Create(ctx, "store1", "cart1", "item1", "cust1", 1, -time.Minute); err != nil {
		t.Fatalf("seed hold: %v", err)
	}

	first := sweeper.RunOnce(ctx)
	second := sweeper.RunOnce(ctx)

	if first.Released != 1 {
		t.Errorf("expected 1 released in first run, got %d", first.Released)
	}
	if second.Expired != 0 || second.Released != 0 {
		t.Errorf("second sweep must find nothing, got %+v", second)
	}
	if len(events.names()) != 1 {
		t.Errorf("expected a single fact across both sweeps, got %v", events.names())
	}
}

func TestSweeper_LeaderGate(t *testing.T) {
	manager, _, holds, _ := newTestManager(10)
	events := &fakeEventPublisher{}
	elector := &fakeElector{leader: false}
	sweeper := NewExpirySweeper(holds, manager, events, elector, 5*time.Millisecond, 100, 4, otel.Tracer("test"))
	ctx, cancel := context.WithCancel(context.Background())

	if _, _, err := manager.Create(ctx, "store1", "cart1", "item1", "cust1", 1, -time.Minute); err != nil {
		t.Fatalf("seed hold: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	// 非领导者绝不清扫
	expired, _ := holds.FindExpired(ctx, time.Now(), 100)
	if len(expired) != 1 {
		t.Errorf("non-leader must not sweep, %d expired holds remain", len(expired))
	}
	if !elector.released {
		t.Error("expected leadership released on shutdown")
	}
}
