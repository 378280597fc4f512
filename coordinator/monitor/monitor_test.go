package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingFleet struct {
	mu       sync.Mutex
	targets  []Target
	recorded map[string]Snapshot
	failed   map[string]int
}

func (f *recordingFleet) Targets() []Target { return f.targets }

func (f *recordingFleet) RecordSnapshot(id string, s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[id] = s
}

func (f *recordingFleet) ProbeFailed(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id]++
}

type scriptedProber struct {
	snaps map[string]Snapshot
	errs  map[string]error
	slow  map[string]time.Duration
}

func (p *scriptedProber) Probe(ctx context.Context, addr string) (Snapshot, error) {
	if d, ok := p.slow[addr]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	if err, ok := p.errs[addr]; ok {
		return Snapshot{}, err
	}
	return p.snaps[addr], nil
}

func TestSampleAllIsolatesFailures(t *testing.T) {
	fleet := &recordingFleet{
		targets: []Target{
			{ID: "good", Address: "good:8081"},
			{ID: "bad", Address: "bad:8081"},
		},
		recorded: make(map[string]Snapshot),
		failed:   make(map[string]int),
	}
	prober := &scriptedProber{
		snaps: map[string]Snapshot{"good:8081": {CPUPercent: 33}},
		errs:  map[string]error{"bad:8081": errors.New("connection refused")},
	}

	m := New(fleet, prober, Config{})
	m.sampleAll(context.Background())

	if got, ok := fleet.recorded["good"]; !ok || got.CPUPercent != 33 {
		t.Errorf("good node sample = %+v, one bad node must not block the sweep", got)
	}
	if fleet.failed["bad"] != 1 {
		t.Errorf("bad node failures = %d, want 1", fleet.failed["bad"])
	}
	if fleet.failed["good"] != 0 {
		t.Errorf("good node marked failed %d times", fleet.failed["good"])
	}
}

func TestSampleHonorsTimeoutClass(t *testing.T) {
	fleet := &recordingFleet{recorded: make(map[string]Snapshot), failed: make(map[string]int)}
	prober := &scriptedProber{slow: map[string]time.Duration{"slow:8081": time.Second}}

	m := New(fleet, prober, Config{LocalTimeout: 10 * time.Millisecond, RemoteTimeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := m.Sample(context.Background(), Target{ID: "slow", Address: "slow:8081", Local: true})
	if err == nil {
		t.Fatal("expected a timeout error from the slow probe")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("probe took %v, the timeout must cut it short", elapsed)
	}
}
