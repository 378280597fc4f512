package registry

import (
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
)

// HealthState describes a node's liveness as seen by the coordinator.
type HealthState int

const (
	Unknown HealthState = iota
	Healthy
	Degraded
	Unreachable
)

func (h HealthState) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Node is the immutable identity and declared shape of a worker endpoint.
type Node struct {
	ID             string   `json:"id"`
	Address        string   `json:"address"`
	Local          bool     `json:"local"`
	Capabilities   []string `json:"capabilities"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// HasCapability reports whether the node declared the named capability.
func (n Node) HasCapability(name string) bool {
	for _, c := range n.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Status is a point-in-time external view of one registry entry, safe to
// serialize for the operator surface.
type Status struct {
	Node          Node              `json:"node"`
	Health        HealthState       `json:"-"`
	HealthLabel   string            `json:"health"`
	Admitted      int               `json:"admitted"`
	Inflight      int               `json:"inflight"`
	LastSnapshot  *monitor.Snapshot `json:"last_snapshot,omitempty"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// LoadRatio is in-flight work relative to admitted capacity. A node with
// zero admitted slots is reported as fully loaded.
func (s Status) LoadRatio() float64 {
	if s.Admitted <= 0 {
		return 1
	}
	return float64(s.Inflight) / float64(s.Admitted)
}
