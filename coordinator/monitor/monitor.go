// Package monitor samples resource pressure on every registered worker
// node. Each node is probed on a fixed period with its own timeout, so a
// slow or dead node never delays sampling of the rest of the fleet.
package monitor

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papermill-io/papermill/coordinator/observability"
)

// Target identifies a node the monitor should sample.
type Target struct {
	ID      string
	Address string
	Local   bool // local targets get the shorter probe timeout
}

// Fleet is the monitor's view of the node registry.
type Fleet interface {
	// Targets lists every node currently worth sampling. Nodes at zero
	// admitted concurrency are still included: a paused node keeps being
	// sampled so it can be resumed.
	Targets() []Target

	// RecordSnapshot appends a sample to the node's rolling window.
	RecordSnapshot(nodeID string, s Snapshot)

	// ProbeFailed records a failed sample. Consecutive failures drive the
	// node toward Unreachable.
	ProbeFailed(nodeID string)
}

// Config holds sampling cadence and timeouts.
type Config struct {
	Period        time.Duration // sampling period per node
	LocalTimeout  time.Duration // probe timeout for local targets
	RemoteTimeout time.Duration // probe timeout for remote targets
}

// DefaultConfig returns the sampling defaults.
func DefaultConfig() Config {
	return Config{
		Period:        10 * time.Second,
		LocalTimeout:  5 * time.Second,
		RemoteTimeout: 10 * time.Second,
	}
}

// Monitor drives periodic resource sampling across the fleet.
type Monitor struct {
	fleet  Fleet
	prober Prober
	cfg    Config
}

// New creates a Monitor. Zero config fields fall back to defaults.
func New(fleet Fleet, prober Prober, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Period <= 0 {
		cfg.Period = def.Period
	}
	if cfg.LocalTimeout <= 0 {
		cfg.LocalTimeout = def.LocalTimeout
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = def.RemoteTimeout
	}
	return &Monitor{fleet: fleet, prober: prober, cfg: cfg}
}

// Start launches the sampling loop. It returns immediately; the loop runs
// until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Period)
	defer ticker.Stop()

	log.Printf("resource monitor started (period %v, local timeout %v, remote timeout %v)",
		m.cfg.Period, m.cfg.LocalTimeout, m.cfg.RemoteTimeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleAll(ctx)
		}
	}
}

// sampleAll probes every target concurrently. Failures are isolated: one
// unreachable node only marks itself, never aborts the sweep.
func (m *Monitor) sampleAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range m.fleet.Targets() {
		target := t
		g.Go(func() error {
			m.sampleOne(ctx, target)
			return nil // failures recorded per node, sweep never aborts
		})
	}
	g.Wait()
}

// Sample probes a single target once, honoring the configured timeout for
// its locality class.
func (m *Monitor) Sample(ctx context.Context, t Target) (Snapshot, error) {
	timeout := m.cfg.RemoteTimeout
	if t.Local {
		timeout = m.cfg.LocalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.prober.Probe(ctx, t.Address)
}

func (m *Monitor) sampleOne(ctx context.Context, t Target) {
	snap, err := m.Sample(ctx, t)
	if err != nil {
		observability.ProbeFailures.WithLabelValues(t.ID).Inc()
		m.fleet.ProbeFailed(t.ID)
		return
	}
	m.fleet.RecordSnapshot(t.ID, snap)
}
