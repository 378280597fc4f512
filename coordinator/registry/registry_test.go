package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
)

func testNode(id string, max int, caps ...string) Node {
	return Node{ID: id, Address: id + ":8081", Capabilities: caps, MaxConcurrency: max}
}

func TestRegisterStartsWithOneAdmittedSlot(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 8, "text-layer"))

	s, ok := r.Status("n1")
	if !ok {
		t.Fatal("registered node not found")
	}
	if s.Admitted != 1 {
		t.Errorf("fresh node admitted = %d, want 1", s.Admitted)
	}
	if s.Health != Unknown {
		t.Errorf("fresh node health = %s, want unknown", s.Health)
	}
}

func TestReRegisterAdoptsNewShape(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 8, "text-layer"))
	r.SetAdmitted("n1", 6)

	// The node comes back declaring a smaller maximum.
	r.Register(testNode("n1", 4, "text-layer", "ocr-fast"))

	s, _ := r.Status("n1")
	if s.Admitted != 4 {
		t.Errorf("admitted = %d, want 4 (clamped to new max)", s.Admitted)
	}
	if !s.Node.HasCapability("ocr-fast") {
		t.Error("re-registration did not adopt new capabilities")
	}
}

func TestAcquireBoundedByAdmitted(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 8))
	r.SetAdmitted("n1", 2)

	if err := r.Acquire("n1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := r.Acquire("n1"); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if err := r.Acquire("n1"); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("third acquire = %v, want ErrNoSlot", err)
	}

	r.Release("n1")
	if err := r.Acquire("n1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	if err := r.Acquire("missing"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("acquire on unknown node = %v, want ErrUnknownNode", err)
	}
}

func TestListOrdersByLoadRatio(t *testing.T) {
	r := New()
	for _, id := range []string{"busy", "idle", "half"} {
		r.Register(testNode(id, 4, "ocr-fast"))
		r.SetAdmitted(id, 4)
		r.MarkHealth(id, Healthy)
	}
	// busy 3/4, half 2/4, idle 0/4.
	for i := 0; i < 3; i++ {
		if err := r.Acquire("busy"); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := r.Acquire("half"); err != nil {
			t.Fatal(err)
		}
	}

	got := r.List("ocr-fast", Healthy)
	if len(got) != 3 {
		t.Fatalf("List returned %d nodes, want 3", len(got))
	}
	order := []string{got[0].Node.ID, got[1].Node.ID, got[2].Node.ID}
	want := []string{"idle", "half", "busy"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("List order = %v, want %v", order, want)
		}
	}
}

func TestListFiltersCapabilityAndHealth(t *testing.T) {
	r := New()
	r.Register(testNode("a", 4, "ocr-fast"))
	r.MarkHealth("a", Healthy)
	r.Register(testNode("b", 4, "text-layer"))
	r.MarkHealth("b", Healthy)
	r.Register(testNode("c", 4, "ocr-fast"))
	r.MarkHealth("c", Degraded)

	got := r.List("ocr-fast", Healthy)
	if len(got) != 1 || got[0].Node.ID != "a" {
		t.Errorf("List = %v, want only node a", got)
	}

	// Degraded threshold lets c back in.
	if got := r.List("ocr-fast", Degraded); len(got) != 2 {
		t.Errorf("List at degraded = %d nodes, want 2", len(got))
	}
}

func TestProbeFailureEscalation(t *testing.T) {
	r := New(WithUnreachableAfter(3))
	r.Register(testNode("n1", 4))
	r.MarkHealth("n1", Healthy)

	r.ProbeFailed("n1")
	if s, _ := r.Status("n1"); s.Health != Degraded {
		t.Fatalf("after 1 failure health = %s, want degraded", s.Health)
	}
	r.ProbeFailed("n1")
	if s, _ := r.Status("n1"); s.Health != Degraded {
		t.Fatalf("after 2 failures health = %s, want degraded", s.Health)
	}
	r.ProbeFailed("n1")
	if s, _ := r.Status("n1"); s.Health != Unreachable {
		t.Fatalf("after 3 failures health = %s, want unreachable", s.Health)
	}

	// A successful sample clears the streak and restores health.
	r.RecordSnapshot("n1", monitor.Snapshot{CPUPercent: 10})
	if s, _ := r.Status("n1"); s.Health != Healthy {
		t.Errorf("after recovery health = %s, want healthy", s.Health)
	}
	r.ProbeFailed("n1")
	if s, _ := r.Status("n1"); s.Health != Degraded {
		t.Errorf("streak not reset: health = %s, want degraded", s.Health)
	}
}

func TestSetAdmittedClamps(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 4))

	r.SetAdmitted("n1", 99)
	if s, _ := r.Status("n1"); s.Admitted != 4 {
		t.Errorf("admitted = %d, want clamp to max 4", s.Admitted)
	}
	r.SetAdmitted("n1", -5)
	if s, _ := r.Status("n1"); s.Admitted != 0 {
		t.Errorf("admitted = %d, want clamp to 0", s.Admitted)
	}
}

func TestFleetPaused(t *testing.T) {
	r := New()
	if r.FleetPaused() {
		t.Error("empty registry must not report fleet paused")
	}

	r.Register(testNode("a", 4))
	r.Register(testNode("b", 4))
	if r.FleetPaused() {
		t.Error("fleet with admitted slots reported paused")
	}

	r.SetAdmitted("a", 0)
	r.SetAdmitted("b", 0)
	if !r.FleetPaused() {
		t.Error("fleet throttled to zero everywhere not reported paused")
	}

	r.SetAdmitted("b", 1)
	if r.FleetPaused() {
		t.Error("one admitted slot anywhere must unpause the fleet")
	}
}

func TestFreeSlots(t *testing.T) {
	r := New()
	r.Register(testNode("a", 4))
	r.SetAdmitted("a", 3)
	r.MarkHealth("a", Healthy)
	r.Register(testNode("b", 4))
	r.SetAdmitted("b", 2)
	r.MarkHealth("b", Degraded)

	if err := r.Acquire("a"); err != nil {
		t.Fatal(err)
	}

	// Only healthy nodes count at the Healthy threshold.
	if got := r.FreeSlots(Healthy); got != 2 {
		t.Errorf("FreeSlots(Healthy) = %d, want 2", got)
	}
	if got := r.FreeSlots(Degraded); got != 4 {
		t.Errorf("FreeSlots(Degraded) = %d, want 4", got)
	}
}

func TestHeartbeatRestoresAndRecords(t *testing.T) {
	r := New()
	if err := r.Heartbeat("ghost", nil); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("heartbeat for unknown node = %v, want ErrUnknownNode", err)
	}

	r.Register(testNode("n1", 4))
	r.MarkHealth("n1", Unreachable)
	if err := r.Heartbeat("n1", &monitor.Snapshot{CPUPercent: 42}); err != nil {
		t.Fatal(err)
	}
	s, _ := r.Status("n1")
	if s.Health != Healthy {
		t.Errorf("health after heartbeat = %s, want healthy", s.Health)
	}
	if s.LastSnapshot == nil || s.LastSnapshot.CPUPercent != 42 {
		t.Errorf("heartbeat snapshot not recorded: %+v", s.LastSnapshot)
	}
}

func TestProbedNodeSurvivesStaleSweep(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 4))

	e := r.entry("n1", false)
	e.mu.Lock()
	e.lastHeartbeat = time.Now().Add(-time.Hour)
	e.mu.Unlock()

	// A pull-probe succeeding is as good as a pushed heartbeat.
	r.RecordSnapshot("n1", monitor.Snapshot{CPUPercent: 10})

	if live := r.SweepStale(time.Minute); live != 1 {
		t.Fatalf("live = %d, want 1 (a clean probe refreshes liveness)", live)
	}
	if s, _ := r.Status("n1"); s.Health != Healthy {
		t.Errorf("health = %s, want healthy", s.Health)
	}
}

func TestSweepStale(t *testing.T) {
	r := New()
	r.Register(testNode("n1", 4))
	r.MarkHealth("n1", Healthy)

	if live := r.SweepStale(time.Hour); live != 1 {
		t.Fatalf("live = %d, want 1 (heartbeat is fresh)", live)
	}
	if live := r.SweepStale(-time.Second); live != 0 {
		t.Fatalf("live = %d, want 0 (everything is stale)", live)
	}
	if s, _ := r.Status("n1"); s.Health != Unreachable {
		t.Errorf("stale node health = %s, want unreachable", s.Health)
	}
}
