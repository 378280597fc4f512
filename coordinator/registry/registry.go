// Package registry tracks the worker fleet: which nodes exist, what they
// can run, how healthy they are, and how much concurrent work each is
// currently permitted and carrying.
//
// The node table is an arena of independently locked entries keyed by node
// id. The registry-level lock only guards the map shape, so touching one
// node never serializes against traffic on another.
package registry

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
	"github.com/papermill-io/papermill/coordinator/observability"
)

// ErrNoSlot is returned by Acquire when the node has no free admitted slot.
var ErrNoSlot = errors.New("registry: no admitted slot available")

// ErrUnknownNode is returned for operations on an unregistered node id.
var ErrUnknownNode = errors.New("registry: unknown node")

// entry is one node's mutable state. Each entry carries its own lock.
type entry struct {
	mu sync.Mutex

	node          Node
	health        HealthState
	window        monitor.Window
	admitted      int // throttle controller is the sole writer
	inflight      int // scheduler is the sole writer, via Acquire/Release
	failedProbes  int
	lastHeartbeat time.Time
}

// Registry is the process-wide node table.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	windowSize       int
	unreachableAfter int // consecutive failed probes before Unreachable
}

// Option tunes registry construction.
type Option func(*Registry)

// WithWindowSize sets the per-node sample window length.
func WithWindowSize(n int) Option {
	return func(r *Registry) { r.windowSize = n }
}

// WithUnreachableAfter sets the consecutive-failure threshold.
func WithUnreachableAfter(n int) Option {
	return func(r *Registry) { r.unreachableAfter = n }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:          make(map[string]*entry),
		windowSize:       monitor.DefaultWindowSize,
		unreachableAfter: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a node or refreshes an existing one. Re-registration keeps
// live counters but adopts the newly declared capabilities and maximum; a
// node returning from the dead starts back at health Unknown until its
// first successful probe.
func (r *Registry) Register(n Node) {
	e := r.entry(n.ID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := e.node.ID == ""
	e.node = n
	e.lastHeartbeat = time.Now()
	e.failedProbes = 0
	if fresh {
		e.health = Unknown
		e.window = monitor.NewWindow(r.windowSize)
		// New nodes start with one admitted slot so they can prove
		// themselves; the throttle controller takes over from there.
		if n.MaxConcurrency > 0 {
			e.admitted = 1
		}
	} else if e.health == Unreachable {
		e.health = Unknown
	}
	if e.admitted > n.MaxConcurrency {
		e.admitted = n.MaxConcurrency
	}
	log.Printf("registry: registered node %s at %s (capabilities %v, max %d)",
		n.ID, n.Address, n.Capabilities, n.MaxConcurrency)
}

// MarkHealth sets a node's health state directly.
func (r *Registry) MarkHealth(nodeID string, h HealthState) {
	e := r.entry(nodeID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.health != h {
		log.Printf("registry: node %s health %s -> %s", nodeID, e.health, h)
	}
	e.health = h
}

// Heartbeat records a liveness signal from the node itself, optionally
// carrying a self-reported resource snapshot.
func (r *Registry) Heartbeat(nodeID string, snap *monitor.Snapshot) error {
	e := r.entry(nodeID, false)
	if e == nil {
		return ErrUnknownNode
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastHeartbeat = time.Now()
	e.failedProbes = 0
	if e.health == Unknown || e.health == Unreachable {
		e.health = Healthy
	}
	if snap != nil {
		e.window = e.window.Push(*snap)
	}
	return nil
}

// List returns nodes carrying the capability at or above the minimum
// health, ordered by ascending load ratio so dispatch biases toward
// underused nodes. An empty capability matches every node.
func (r *Registry) List(capability string, minHealth HealthState) []Status {
	statuses := r.Snapshot()
	filtered := statuses[:0]
	for _, s := range statuses {
		if capability != "" && !s.Node.HasCapability(capability) {
			continue
		}
		if !atLeast(s.Health, minHealth) {
			continue
		}
		filtered = append(filtered, s)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].LoadRatio() < filtered[j].LoadRatio()
	})
	return filtered
}

// Snapshot returns the current status of every node, unordered.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.Status(id); ok {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

// Status returns one node's current status.
func (r *Registry) Status(nodeID string) (Status, bool) {
	e := r.entry(nodeID, false)
	if e == nil {
		return Status{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		Node:          e.node,
		Health:        e.health,
		HealthLabel:   e.health.String(),
		Admitted:      e.admitted,
		Inflight:      e.inflight,
		LastHeartbeat: e.lastHeartbeat,
	}
	if snap, ok := e.window.Latest(); ok {
		copySnap := snap
		s.LastSnapshot = &copySnap
	}
	return s, true
}

// Acquire claims one in-flight slot on the node. It fails with ErrNoSlot
// when in-flight work already fills the admitted concurrency, so admission
// is re-evaluated on every dispatch rather than cached.
func (r *Registry) Acquire(nodeID string) error {
	e := r.entry(nodeID, false)
	if e == nil {
		return ErrUnknownNode
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight >= e.admitted {
		return ErrNoSlot
	}
	e.inflight++
	observability.NodeInflight.WithLabelValues(nodeID).Set(float64(e.inflight))
	return nil
}

// Release returns a previously acquired slot. Release must be called
// exactly once per successful Acquire, including on cancellation.
func (r *Registry) Release(nodeID string) {
	e := r.entry(nodeID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight > 0 {
		e.inflight--
	}
	observability.NodeInflight.WithLabelValues(nodeID).Set(float64(e.inflight))
}

// FreeSlots reports the number of unclaimed admitted slots across nodes at
// or above the minimum health.
func (r *Registry) FreeSlots(minHealth HealthState) int {
	total := 0
	for _, s := range r.Snapshot() {
		if !atLeast(s.Health, minHealth) {
			continue
		}
		if free := s.Admitted - s.Inflight; free > 0 {
			total += free
		}
	}
	return total
}

// FleetPaused reports a fleet-wide resource emergency: at least one node
// registered, and every node sitting at zero admitted concurrency.
func (r *Registry) FleetPaused() bool {
	statuses := r.Snapshot()
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.Admitted > 0 {
			return false
		}
	}
	return true
}

// --- monitor.Fleet ---

// Targets lists every non-removed node for periodic sampling. Nodes at
// admitted zero stay listed; only sustained probe failure removes a node
// from the sweep, and even then it stays in the table as Unreachable.
func (r *Registry) Targets() []monitor.Target {
	statuses := r.Snapshot()
	targets := make([]monitor.Target, 0, len(statuses))
	for _, s := range statuses {
		targets = append(targets, monitor.Target{
			ID:      s.Node.ID,
			Address: s.Node.Address,
			Local:   s.Node.Local,
		})
	}
	return targets
}

// RecordSnapshot appends a successful sample and clears the failure
// streak. A node we can probe is alive, so the sample also counts as a
// heartbeat for staleness sweeps.
func (r *Registry) RecordSnapshot(nodeID string, snap monitor.Snapshot) {
	e := r.entry(nodeID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = e.window.Push(snap)
	e.failedProbes = 0
	e.lastHeartbeat = time.Now()
	if e.health == Unknown || e.health == Unreachable || e.health == Degraded {
		e.health = Healthy
	}
}

// ProbeFailed records a failed sample. After the configured number of
// consecutive failures the node is marked Unreachable; before that it is
// Degraded.
func (r *Registry) ProbeFailed(nodeID string) {
	e := r.entry(nodeID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedProbes++
	switch {
	case e.failedProbes >= r.unreachableAfter:
		if e.health != Unreachable {
			log.Printf("registry: node %s unreachable after %d failed probes", nodeID, e.failedProbes)
		}
		e.health = Unreachable
	case e.health == Healthy:
		e.health = Degraded
	}
}

// --- throttle.Fleet ---

// NodeIDs lists every node id in the table.
func (r *Registry) NodeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// AdmissionState returns the inputs the throttle controller needs for one
// node.
func (r *Registry) AdmissionState(nodeID string) (current, max int, w monitor.Window, ok bool) {
	e := r.entry(nodeID, false)
	if e == nil {
		return 0, 0, monitor.Window{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admitted, e.node.MaxConcurrency, e.window, true
}

// SetAdmitted writes a node's admitted concurrency, clamped to
// [0, declared max]. The throttle controller is the sole caller.
func (r *Registry) SetAdmitted(nodeID string, admitted int) {
	e := r.entry(nodeID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if admitted < 0 {
		admitted = 0
	}
	if admitted > e.node.MaxConcurrency {
		admitted = e.node.MaxConcurrency
	}
	e.admitted = admitted
}

// SweepStale marks nodes whose heartbeat is older than threshold as
// Unreachable and reports the number still live.
func (r *Registry) SweepStale(threshold time.Duration) int {
	live := 0
	now := time.Now()
	for _, id := range r.NodeIDs() {
		e := r.entry(id, false)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if !e.lastHeartbeat.IsZero() && now.Sub(e.lastHeartbeat) > threshold {
			if e.health != Unreachable {
				log.Printf("registry: node %s heartbeat stale (last %v), marking unreachable", id, e.lastHeartbeat)
				e.health = Unreachable
			}
		} else {
			live++
		}
		e.mu.Unlock()
	}
	observability.ConnectedNodes.Set(float64(live))
	return live
}

func (r *Registry) entry(nodeID string, create bool) *entry {
	r.mu.RLock()
	e, ok := r.entries[nodeID]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[nodeID]; ok {
		return e
	}
	e = &entry{window: monitor.NewWindow(r.windowSize)}
	r.entries[nodeID] = e
	return e
}

// atLeast orders health states by usefulness for dispatch:
// Healthy > Degraded > Unknown > Unreachable.
func atLeast(h, min HealthState) bool {
	return rank(h) >= rank(min)
}

func rank(h HealthState) int {
	switch h {
	case Healthy:
		return 3
	case Degraded:
		return 2
	case Unknown:
		return 1
	default:
		return 0
	}
}
