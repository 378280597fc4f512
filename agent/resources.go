package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
)

// Sampler reads node utilization from the kernel. CPU percentage needs
// two /proc/stat readings, so the sampler keeps the previous counters
// between calls; the first call reports zero CPU.
type Sampler struct {
	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64

	gpuOnce sync.Once
	hasGPU  bool
}

func NewSampler() *Sampler {
	return &Sampler{}
}

// Sample produces one utilization snapshot.
func (s *Sampler) Sample() monitor.Snapshot {
	snap := monitor.Snapshot{TakenAt: time.Now().UTC()}

	if cpu, err := s.cpuPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := memoryPercent(); err == nil {
		snap.MemoryPercent = mem
	}
	if free, err := diskFreePercent("/"); err == nil {
		snap.DiskFreePercent = free
	}
	if gpu, ok := s.gpuPercent(); ok {
		snap.GPUPercent = &gpu
	}
	return snap
}

func (s *Sampler) cpuPercent() (float64, error) {
	idle, total, err := readCPUCounters()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dIdle := idle - s.prevIdle
	dTotal := total - s.prevTotal
	first := s.prevTotal == 0
	s.prevIdle, s.prevTotal = idle, total

	if first || dTotal == 0 {
		return 0, nil
	}
	return 100 * (1 - float64(dIdle)/float64(dTotal)), nil
}

func readCPUCounters() (idle, total uint64, err error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, fmt.Errorf("unexpected /proc/stat format")
	}
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		total += v
		// Field 4 is idle, field 5 is iowait.
		if i == 3 || i == 4 {
			idle += v
		}
	}
	return idle, total, nil
}

func memoryPercent() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var memTotal, memAvailable uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			memTotal = v
		case "MemAvailable:":
			memAvailable = v
		}
	}
	if memTotal == 0 {
		return 0, fmt.Errorf("MemTotal missing from /proc/meminfo")
	}
	return 100 * (1 - float64(memAvailable)/float64(memTotal)), nil
}

func diskFreePercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, fmt.Errorf("statfs reported zero blocks for %s", path)
	}
	return 100 * float64(st.Bavail) / float64(st.Blocks), nil
}

// gpuPercent shells out to nvidia-smi when present. Nodes without a GPU
// simply omit the signal.
func (s *Sampler) gpuPercent() (float64, bool) {
	s.gpuOnce.Do(func() {
		_, err := exec.LookPath("nvidia-smi")
		s.hasGPU = err == nil
	})
	if !s.hasGPU {
		return 0, false
	}

	out, err := exec.Command("nvidia-smi",
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
