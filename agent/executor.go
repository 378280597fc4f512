package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// Executor runs capability commands. Each advertised capability is
// backed by a shell command that reads its input on stdin and writes a
// JSON result on stdout.
type Executor struct {
	commands map[string]CapabilityConfig
	slots    chan struct{}
}

func NewExecutor(cfg *Config) *Executor {
	commands := make(map[string]CapabilityConfig, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		commands[c.Name] = c
	}
	return &Executor{
		commands: commands,
		slots:    make(chan struct{}, cfg.MaxConcurrency),
	}
}

// ErrBusy is returned when every local execution slot is taken. The
// coordinator's admission control should prevent this; it is a backstop
// against a coordinator that over-dispatches.
var ErrBusy = fmt.Errorf("all execution slots busy")

// Run executes the named capability with stdin as input and returns
// its stdout. The capability's configured timeout bounds the run.
func (e *Executor) Run(ctx context.Context, capability string, stdin []byte) ([]byte, error) {
	spec, ok := e.commands[capability]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", capability)
	}

	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	default:
		return nil, ErrBusy
	}

	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", spec.Command)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("capability %s failed after %s: %v (stderr: %s)",
			capability, elapsed.Round(time.Millisecond), err, truncate(stderr.String(), 200))
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("capability %s timed out after %s", capability, timeout)
		}
		return nil, fmt.Errorf("capability %s: %w", capability, err)
	}

	log.Printf("capability %s completed in %s", capability, elapsed.Round(time.Millisecond))
	return stdout.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
