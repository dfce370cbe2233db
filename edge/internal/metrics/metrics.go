package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storepulse_edge_outbox_depth",
			Help: "Pending records in the local outbox",
		},
	)

	EnvelopesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_edge_envelopes_sent_total",
			Help: "Envelopes acknowledged by the ingestion endpoint",
		},
	)

	EnvelopesRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_edge_envelopes_retried_total",
			Help: "Delivery attempts deferred for retry",
		},
	)

	EnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_edge_envelopes_dropped_total",
			Help: "Records terminally dropped after repeated rejection",
		},
	)
)
