package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sale",
		Name:      "checkout_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sale",
		Name:      "checkout_duration_seconds",
		Help:      "Time to reserve, create the order and open a payment session.",
		Buckets:   prometheus.DefBuckets,
	})

	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sale",
		Name:      "payment_events_total",
		Help:      "Payment provider events by source, type and outcome.",
	}, []string{"source", "type", "outcome"})

	SweptOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sale",
		Name:      "swept_orders_total",
		Help:      "Abandoned orders marked FAILED by the sweeper.",
	})

	ClearedReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sale",
		Name:      "cleared_reservations_total",
		Help:      "Lapsed listing reservations cleared by the sweeper.",
	})

	OutboxEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sale",
		Name:      "outbox_events_total",
		Help:      "Outbox events handed to Kafka by status.",
	}, []string{"status"})
)

// ObserveOutbox matches the outbox relay result hook.
func ObserveOutbox(sent, failed int) {
	OutboxEventsTotal.WithLabelValues("sent").Add(float64(sent))
	OutboxEventsTotal.WithLabelValues("failed").Add(float64(failed))
}
