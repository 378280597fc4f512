package scheduler

import (
	"encoding/json"
	"log"
	"time"

	"github.com/papermill-io/papermill/coordinator/observability"
)

// Config holds scheduler tuning. All values are deployment tunables, not
// contracts; the coordinator config file overrides them.
type Config struct {
	// RetryLimit bounds re-queues after transport failures. Confidence or
	// consensus shortfalls are never retried.
	RetryLimit int

	// RetryBackoff is the base delay before a transport retry; the delay
	// doubles per attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// DispatchInterval is the cadence of the dispatch loop.
	DispatchInterval time.Duration

	// TargetCategory is the category hint passed to consensus voters.
	TargetCategory string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RetryLimit:       3,
		RetryBackoff:     2 * time.Second,
		MaxRetryBackoff:  60 * time.Second,
		DispatchInterval: 100 * time.Millisecond,
		TargetCategory:   "document",
	}
}

// Decision is a structured log entry for scheduler actions.
type Decision struct {
	Component  string      `json:"component"`
	Decision   string      `json:"decision"` // DISPATCH, DEDUP_SHORT_CIRCUIT, RESOURCE_EXHAUSTED, RETRY, FINALIZE, PAUSED_HOLD
	DocumentID string      `json:"document_id,omitempty"`
	Attempt    int         `json:"attempt,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Metadata   interface{} `json:"metadata,omitempty"`
}

func logDecision(d Decision) {
	d.Component = "scheduler"
	bytes, _ := json.Marshal(d)
	log.Println(string(bytes))
	observability.SchedulerDecisions.WithLabelValues(d.Decision, d.Reason).Inc()
}

// Stats is the operator-facing scheduler summary.
type Stats struct {
	QueueDepth int            `json:"queue_depth"`
	Active     int            `json:"active"`
	Paused     bool           `json:"paused"`
	FleetIdle  bool           `json:"fleet_paused"`
	Outcomes   map[string]int `json:"outcomes"`
	Statuses   map[string]int `json:"statuses,omitempty"`
}
