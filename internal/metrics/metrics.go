package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_events_appended_total",
		Help: "Total number of events durably appended to the event store, labelled by type.",
	}, []string{"type"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_publish_failures_total",
		Help: "Total number of broadcasts that could not be appended, labelled by type.",
	}, []string{"type"})

	EventsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicpulse_events_purged_total",
		Help: "Total number of events removed by the retention sweep.",
	})

	CorruptRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicpulse_corrupt_records_total",
		Help: "Total number of event records skipped because they could not be decoded.",
	})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "civicpulse_streams_active",
		Help: "Number of currently open event streams.",
	})

	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_stream_frames_total",
		Help: "Total number of frames written to stream clients, labelled by event type.",
	}, []string{"type"})

	StreamsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_streams_closed_total",
		Help: "Total number of closed streams, labelled by reason.",
	}, []string{"reason"})

	ZonesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_zones_matched_total",
		Help: "Total number of watch zones containing a high-severity incident, labelled by alert frequency.",
	}, []string{"frequency"})

	MatchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "civicpulse_match_runs_total",
		Help: "Total number of proximity match runs, labelled by status.",
	}, []string{"status"})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "civicpulse_match_duration_ms",
		Help:    "Proximity match latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	DispatchEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicpulse_dispatch_enqueued_total",
		Help: "Total number of incidents placed on the dispatch queue.",
	})

	DispatchDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "civicpulse_dispatch_dropped_total",
		Help: "Total number of incidents rejected due to a full dispatch queue.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "civicpulse_dispatch_queue_utilization_ratio",
		Help: "Current dispatch queue utilization (0–1).",
	})
)
