// Package throttle converts resource sample windows into per-node admitted
// concurrency. It is the sole writer of that value: a small feedback
// controller stepping each node up or down between distinct watermarks so
// admission reacts to load without oscillating.
package throttle

import (
	"context"
	"log"
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
	"github.com/papermill-io/papermill/coordinator/observability"
)

// Config holds the hysteresis watermarks and step size.
type Config struct {
	// HighWatermark is the smoothed utilization percentage above which a
	// node's admitted concurrency steps down.
	HighWatermark float64

	// LowWatermark is the utilization percentage every sample of the whole
	// window must stay below before admitted concurrency steps back up.
	LowWatermark float64

	// Step is the amount admitted concurrency moves per evaluation.
	Step int

	// Interval is how often the controller re-evaluates the fleet.
	Interval time.Duration
}

// DefaultConfig returns the tuning defaults. They are starting points, not
// contracts; deployments override them in the coordinator config file.
func DefaultConfig() Config {
	return Config{
		HighWatermark: 90,
		LowWatermark:  70,
		Step:          1,
		Interval:      10 * time.Second,
	}
}

// Fleet is the controller's view of the node registry.
type Fleet interface {
	NodeIDs() []string

	// AdmissionState returns a node's current admitted concurrency, its
	// declared maximum, and its sample window. ok is false for unknown
	// nodes.
	AdmissionState(nodeID string) (current, max int, w monitor.Window, ok bool)

	// SetAdmitted writes the node's admitted concurrency. The registry
	// clamps to [0, declared max]; the controller is the only caller.
	SetAdmitted(nodeID string, admitted int)
}

// Controller implements the admission feedback loop.
type Controller struct {
	fleet Fleet
	cfg   Config
}

// New creates a Controller. Zero config fields fall back to defaults.
func New(fleet Fleet, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = def.HighWatermark
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = def.LowWatermark
	}
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Controller{fleet: fleet, cfg: cfg}
}

// Start launches the evaluation loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	log.Printf("throttle controller started (high %.0f%%, low %.0f%%, step %d)",
		c.cfg.HighWatermark, c.cfg.LowWatermark, c.cfg.Step)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvaluateFleet()
		}
	}
}

// EvaluateFleet re-evaluates every node independently. One node's pressure
// never changes another node's admission.
func (c *Controller) EvaluateFleet() {
	for _, id := range c.fleet.NodeIDs() {
		current, max, w, ok := c.fleet.AdmissionState(id)
		if !ok {
			continue
		}
		next := c.Evaluate(current, max, w)
		if next != current {
			log.Printf("throttle: node %s admitted %d -> %d", id, current, next)
			c.fleet.SetAdmitted(id, next)
		}
		observability.NodeAdmitted.WithLabelValues(id).Set(float64(next))
	}
}

// Evaluate computes the next admitted concurrency for one node.
//
// The tightest signal wins: if any smoothed signal (CPU, memory, GPU when
// present, disk used) sits at or above the high watermark, admission steps
// down, to a floor of zero. Admission steps up only when every signal of
// every sample in a full window sits below the low watermark. Anything in
// between holds steady; the gap between watermarks is the hysteresis band
// that prevents oscillation.
func (c *Controller) Evaluate(current, max int, w monitor.Window) int {
	if max <= 0 {
		return 0
	}
	// An incomplete window is not evidence either way.
	if !w.Full() {
		return clamp(current, 0, max)
	}

	tightest := w.SmoothedCPU()
	if v := w.SmoothedMemory(); v > tightest {
		tightest = v
	}
	if v, ok := w.SmoothedGPU(); ok && v > tightest {
		tightest = v
	}
	if v := w.SmoothedDiskUsed(); v > tightest {
		tightest = v
	}

	switch {
	case tightest >= c.cfg.HighWatermark:
		return clamp(current-c.cfg.Step, 0, max)
	case w.AllBelow(c.cfg.LowWatermark):
		return clamp(current+c.cfg.Step, 0, max)
	default:
		return clamp(current, 0, max)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
