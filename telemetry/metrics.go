package telemetry

// Histogram bucket definitions
var (
	// PublishBuckets for sink round trips
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
)

// Tailing metrics
var (
	// EntriesTotal counts change-log records by verdict (accepted, or the rejection reason)
	EntriesTotal CounterVec = noopCounterVec{}

	// EventsEmittedTotal counts change events handed to the queue by operation
	EventsEmittedTotal CounterVec = noopCounterVec{}

	// SoftSkipsTotal counts records dropped without an event (not found, unmapped key, ...)
	SoftSkipsTotal CounterVec = noopCounterVec{}

	// TailRetriesTotal counts transient failures that caused a retry
	TailRetriesTotal Counter = NoopStat{}

	// CursorOpensTotal counts change-log cursor (re)opens
	CursorOpensTotal Counter = NoopStat{}

	// RiverStatus is the numeric river status (0=INIT 1=RUNNING 2=STOPPED 3=STALE 4=FATAL)
	RiverStatus Gauge = NoopStat{}

	// PositionLagSeconds is wall clock minus the current position timestamp
	PositionLagSeconds Gauge = NoopStat{}

	// PKSchemaLookupsTotal counts key schema lookups by result (hit, loaded, empty)
	PKSchemaLookupsTotal CounterVec = noopCounterVec{}
)

// Queue and publishing metrics
var (
	// QueueDepth is the number of events waiting for the publisher
	QueueDepth Gauge = NoopStat{}

	// SinkMessagesTotal counts delivered messages by sink and result (published, filtered, failed)
	SinkMessagesTotal CounterVec = noopCounterVec{}

	// SinkPublishSeconds measures batch delivery latency by sink
	SinkPublishSeconds HistogramVec = noopHistogramVec{}

	// SinkRetriesTotal counts publish retries
	SinkRetriesTotal Counter = NoopStat{}

	// CommittedPositionSeconds is the timestamp of the last committed position (unix seconds)
	CommittedPositionSeconds Gauge = NoopStat{}

	// ImportedDocumentsTotal counts documents emitted by collection imports
	ImportedDocumentsTotal Counter = NoopStat{}
)

// InitMetrics registers all metrics. Call after Initialize.
func InitMetrics() {
	EntriesTotal = NewCounterVec(
		"entries_total",
		"Change-log records read by verdict",
		[]string{"result"},
	)
	EventsEmittedTotal = NewCounterVec(
		"events_emitted_total",
		"Change events emitted by operation",
		[]string{"op"},
	)
	SoftSkipsTotal = NewCounterVec(
		"soft_skips_total",
		"Records dropped without an event by reason",
		[]string{"reason"},
	)
	TailRetriesTotal = NewCounter(
		"tail_retries_total",
		"Transient tailing failures that were retried",
	)
	CursorOpensTotal = NewCounter(
		"cursor_opens_total",
		"Change-log cursor opens",
	)
	RiverStatus = NewGauge(
		"status",
		"River status (0=INIT 1=RUNNING 2=STOPPED 3=STALE 4=FATAL)",
	)
	PositionLagSeconds = NewGauge(
		"position_lag_seconds",
		"Seconds between now and the current change-log position",
	)
	PKSchemaLookupsTotal = NewCounterVec(
		"pk_schema_lookups_total",
		"Primary key schema lookups by result",
		[]string{"result"},
	)

	QueueDepth = NewGauge(
		"queue_depth",
		"Events waiting in the queue",
	)
	SinkMessagesTotal = NewCounterVec(
		"sink_messages_total",
		"Messages handled by the publisher by sink and result",
		[]string{"sink", "result"},
	)
	SinkPublishSeconds = NewHistogramVec(
		"sink_publish_seconds",
		"Batch delivery latency in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	SinkRetriesTotal = NewCounter(
		"sink_retries_total",
		"Publish retries",
	)
	CommittedPositionSeconds = NewGauge(
		"committed_position_seconds",
		"Timestamp of the last committed position",
	)
	ImportedDocumentsTotal = NewCounter(
		"imported_documents_total",
		"Documents emitted by collection imports",
	)
}
