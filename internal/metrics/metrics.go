package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callboard_calls_ingested_total",
		Help: "Total number of call events persisted, labelled by status.",
	}, []string{"status"})

	WebhookRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callboard_webhook_rejected_total",
		Help: "Total number of rejected webhook requests, labelled by reason.",
	}, []string{"reason"})

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callboard_stream_subscribers",
		Help: "Number of currently connected stream subscribers.",
	})

	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callboard_broadcast_dropped_total",
		Help: "Total number of frames dropped because a subscriber queue was full.",
	})

	InsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "callboard_store_insert_duration_ms",
		Help:    "Durable store insert latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
)
