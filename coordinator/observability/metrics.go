package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of documents waiting for dispatch.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papermill_queue_depth",
		Help: "Current number of documents in the scheduling queue",
	})

	// DocumentsFinished counts documents that reached a terminal state.
	DocumentsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_documents_finished_total",
		Help: "Documents that reached a terminal state, by outcome",
	}, []string{"outcome"})

	// SchedulerDecisions tracks dispatch decisions by type.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision", "reason"})

	// SchedulerLoopDuration tracks the duration of the dispatch loop.
	SchedulerLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papermill_scheduler_loop_duration_seconds",
		Help:    "Duration of the main dispatch loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// DocumentRetries counts re-queues after transport failures.
	DocumentRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papermill_document_retries_total",
		Help: "Total number of document retry attempts after transport failures",
	})

	// StageInvocations counts extraction stage runs by outcome.
	StageInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_stage_invocations_total",
		Help: "Extraction stage invocations, by stage and outcome",
	}, []string{"stage", "outcome"})

	// StageLatency tracks per-stage extraction latency.
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papermill_stage_latency_seconds",
		Help:    "Extraction stage invocation latency",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"stage"})

	// ConsensusAgreement observes the agreement strength of each resolution.
	ConsensusAgreement = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papermill_consensus_agreement_strength",
		Help:    "Agreement strength (majority size / ballots received) per resolution",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// ConsensusBallots counts voter responses by outcome.
	ConsensusBallots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_consensus_ballots_total",
		Help: "Voter responses, by voter and outcome (ballot, timeout, error)",
	}, []string{"voter", "outcome"})

	// NodeAdmitted exposes each node's current admitted concurrency.
	NodeAdmitted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papermill_node_admitted_concurrency",
		Help: "Admitted concurrency per node, set by the throttle controller",
	}, []string{"node"})

	// NodeInflight exposes each node's in-flight assignment count.
	NodeInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "papermill_node_inflight",
		Help: "In-flight assignments per node",
	}, []string{"node"})

	// ProbeFailures counts failed resource probes per node.
	ProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_probe_failures_total",
		Help: "Failed resource probes, by node",
	}, []string{"node"})

	// ConnectedNodes tracks the number of nodes currently considered live.
	ConnectedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papermill_connected_nodes",
		Help: "Current number of nodes with a fresh heartbeat",
	})

	// PipelinePaused reports whether the whole pipeline is paused
	// (1 = paused, either by operator or by a fleet-wide throttle).
	PipelinePaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papermill_pipeline_paused",
		Help: "Whether the pipeline is currently paused (1) or running (0)",
	})

	// WSClients tracks currently connected websocket dashboard clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papermill_ws_clients",
		Help: "Currently connected websocket clients",
	})

	// APIRateLimited counts requests rejected by API rate limiters.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"})

	// DuplicatesDetected counts documents short-circuited by the seen-set.
	DuplicatesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papermill_duplicates_detected_total",
		Help: "Documents short-circuited as exact content duplicates",
	})

	// SinkDeliveries counts records delivered to the sink.
	SinkDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papermill_sink_deliveries_total",
		Help: "Finalized records delivered to the sink, by outcome",
	}, []string{"outcome"})
)
