package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心链路的业务指标，通过 /metrics 暴露。
var (
	metricReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_cart_reservations_created_total",
		Help: "Number of cart reservations successfully created.",
	})

	metricReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_cart_reservation_conflicts_total",
		Help: "Number of concurrent reservation conflicts surfaced to callers.",
	})

	metricReservationsReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_cart_reservations_released_total",
		Help: "Number of cart reservations released, by reason.",
	}, []string{"reason"})

	metricSettlementEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_settlement_events_total",
		Help: "Payment provider events processed, by outcome.",
	}, []string{"outcome"})

	metricSweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_expiry_sweep_runs_total",
		Help: "Number of expiry sweep iterations executed.",
	})

	metricSweepReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_expiry_sweep_released_total",
		Help: "Number of expired reservations released by the sweeper.",
	})
)
