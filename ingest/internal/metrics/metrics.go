package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_events_total",
			Help: "Total number of events received",
		},
		[]string{"event_name", "outcome"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_event_bytes_total",
			Help: "Total bytes of event data received",
		},
	)

	// Ledger metrics
	LedgerInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_ledger_inserts_total",
			Help: "Total number of newly stored ledger entries",
		},
	)

	LedgerDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_ledger_duplicates_total",
			Help: "Total number of deduplicated (replayed) events",
		},
	)

	LedgerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_ledger_errors_total",
			Help: "Total number of ledger write failures",
		},
	)

	// Notification metrics
	TransitionsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_transitions_emitted_total",
			Help: "Total number of status transition envelopes emitted",
		},
		[]string{"event_name", "current_status"},
	)

	TransitionsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_transitions_suppressed_total",
			Help: "Total number of transitions suppressed by cooldown or dedup",
		},
		[]string{"event_name"},
	)

	// Tick driver metrics
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storepulse_ingest_tick_duration_seconds",
			Help:    "Duration of liveness tick sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickStoresChecked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_tick_stores_checked_total",
			Help: "Total number of stores examined by the tick driver",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storepulse_ingest_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"store"},
	)
)
