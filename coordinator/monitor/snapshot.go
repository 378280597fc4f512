package monitor

import (
	"time"
)

// Snapshot is a point-in-time resource reading for a single node.
// Snapshots are immutable once taken; a newer sample supersedes an older
// one, it never mutates it in place.
type Snapshot struct {
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	GPUPercent      *float64  `json:"gpu_percent,omitempty"` // nil on nodes without a GPU
	DiskFreePercent float64   `json:"disk_free_percent"`
	TakenAt         time.Time `json:"taken_at"`
}

// DiskUsedPercent converts the free-space reading into a pressure signal
// comparable with the other utilization percentages.
func (s Snapshot) DiskUsedPercent() float64 {
	return 100 - s.DiskFreePercent
}

// Window holds the most recent samples for a node, oldest first.
// It smooths single-sample spikes: throttle decisions read the window,
// never a lone snapshot.
type Window struct {
	samples []Snapshot
	size    int
}

// DefaultWindowSize is the number of samples kept for trend smoothing.
const DefaultWindowSize = 3

// NewWindow creates a rolling window holding up to size samples.
// A size below 1 falls back to DefaultWindowSize.
func NewWindow(size int) Window {
	if size < 1 {
		size = DefaultWindowSize
	}
	return Window{size: size}
}

// Push appends a snapshot, evicting the oldest once the window is full.
// It returns the updated window; Window values are treated as immutable.
func (w Window) Push(s Snapshot) Window {
	samples := make([]Snapshot, 0, w.size)
	samples = append(samples, w.samples...)
	samples = append(samples, s)
	if len(samples) > w.size {
		samples = samples[len(samples)-w.size:]
	}
	return Window{samples: samples, size: w.size}
}

// Full reports whether the window holds its full complement of samples.
func (w Window) Full() bool {
	return w.size > 0 && len(w.samples) == w.size
}

// Len returns the number of samples currently held.
func (w Window) Len() int {
	return len(w.samples)
}

// Latest returns the most recent snapshot, if any.
func (w Window) Latest() (Snapshot, bool) {
	if len(w.samples) == 0 {
		return Snapshot{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// SmoothedCPU returns the mean CPU% across the window.
func (w Window) SmoothedCPU() float64 {
	return w.mean(func(s Snapshot) (float64, bool) { return s.CPUPercent, true })
}

// SmoothedMemory returns the mean memory% across the window.
func (w Window) SmoothedMemory() float64 {
	return w.mean(func(s Snapshot) (float64, bool) { return s.MemoryPercent, true })
}

// SmoothedGPU returns the mean GPU% across samples that carried a GPU
// reading. ok is false when no sample in the window had one.
func (w Window) SmoothedGPU() (float64, bool) {
	var sum float64
	var n int
	for _, s := range w.samples {
		if s.GPUPercent != nil {
			sum += *s.GPUPercent
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// SmoothedDiskUsed returns the mean disk-used% across the window.
func (w Window) SmoothedDiskUsed() float64 {
	return w.mean(func(s Snapshot) (float64, bool) { return s.DiskUsedPercent(), true })
}

// AllBelow reports whether every pressure signal of every sample in the
// window sits strictly below the given threshold. Used for the throttle
// step-up condition, which requires a calm full window, not a calm mean.
func (w Window) AllBelow(threshold float64) bool {
	if len(w.samples) == 0 {
		return false
	}
	for _, s := range w.samples {
		if s.CPUPercent >= threshold || s.MemoryPercent >= threshold || s.DiskUsedPercent() >= threshold {
			return false
		}
		if s.GPUPercent != nil && *s.GPUPercent >= threshold {
			return false
		}
	}
	return true
}

func (w Window) mean(get func(Snapshot) (float64, bool)) float64 {
	var sum float64
	var n int
	for _, s := range w.samples {
		if v, ok := get(s); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
