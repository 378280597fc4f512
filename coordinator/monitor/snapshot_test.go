package monitor

import (
	"testing"
)

func snap(cpu, mem, diskFree float64) Snapshot {
	return Snapshot{CPUPercent: cpu, MemoryPercent: mem, DiskFreePercent: diskFree}
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(3)
	if w.Full() {
		t.Fatal("empty window reported full")
	}

	w = w.Push(snap(10, 10, 90))
	w = w.Push(snap(20, 10, 90))
	if w.Full() {
		t.Fatal("window with 2 of 3 samples reported full")
	}
	w = w.Push(snap(30, 10, 90))
	if !w.Full() {
		t.Fatal("window with 3 samples not full")
	}

	// Fourth sample evicts the oldest.
	w = w.Push(snap(60, 10, 90))
	if w.Len() != 3 {
		t.Fatalf("expected 3 samples after eviction, got %d", w.Len())
	}
	latest, ok := w.Latest()
	if !ok || latest.CPUPercent != 60 {
		t.Fatalf("latest = %v, want CPU 60", latest)
	}
	if got := w.SmoothedCPU(); got != (20+30+60)/3.0 {
		t.Errorf("SmoothedCPU = %v, want %v", got, (20+30+60)/3.0)
	}
}

func TestWindowImmutable(t *testing.T) {
	w := NewWindow(3)
	w1 := w.Push(snap(50, 50, 50))
	if w.Len() != 0 {
		t.Error("Push mutated the receiver window")
	}
	if w1.Len() != 1 {
		t.Errorf("pushed window has %d samples, want 1", w1.Len())
	}
}

func TestSmoothedGPUSkipsMissingReadings(t *testing.T) {
	gpu := 80.0
	w := NewWindow(3)
	w = w.Push(snap(10, 10, 90))
	w = w.Push(Snapshot{CPUPercent: 10, MemoryPercent: 10, DiskFreePercent: 90, GPUPercent: &gpu})

	v, ok := w.SmoothedGPU()
	if !ok {
		t.Fatal("expected a GPU reading")
	}
	if v != 80 {
		t.Errorf("SmoothedGPU = %v, want 80 (mean over readings present, not samples)", v)
	}

	empty := NewWindow(3).Push(snap(10, 10, 90))
	if _, ok := empty.SmoothedGPU(); ok {
		t.Error("window without GPU readings reported a GPU value")
	}
}

func TestAllBelowChecksEverySignal(t *testing.T) {
	w := NewWindow(2)
	w = w.Push(snap(10, 10, 90))
	w = w.Push(snap(10, 10, 90))
	if !w.AllBelow(70) {
		t.Error("calm window not reported below threshold")
	}

	// One hot memory sample breaks the condition even though the mean
	// stays low.
	w2 := NewWindow(2)
	w2 = w2.Push(snap(10, 95, 90))
	w2 = w2.Push(snap(10, 10, 90))
	if w2.AllBelow(70) {
		t.Error("window with one hot sample reported calm")
	}

	// Disk free converts to disk used.
	w3 := NewWindow(1).Push(snap(10, 10, 5))
	if w3.AllBelow(70) {
		t.Error("window with 95% disk used reported calm")
	}

	if NewWindow(3).AllBelow(70) {
		t.Error("empty window must not satisfy AllBelow")
	}
}

func TestDiskUsedPercent(t *testing.T) {
	s := snap(0, 0, 25)
	if got := s.DiskUsedPercent(); got != 75 {
		t.Errorf("DiskUsedPercent = %v, want 75", got)
	}
}
