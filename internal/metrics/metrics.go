package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_courier_webhook_events_total",
			Help: "Courier webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_status_transitions_total",
			Help: "Order status transitions by source and target status",
		},
		[]string{"source", "status"},
	)
	StockRestorations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_stock_restorations_total",
			Help: "Orders whose stock was credited back after cancellation or return",
		},
	)
	CourierRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orders_courier_request_duration_seconds",
			Help:    "Latency of courier gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
)
