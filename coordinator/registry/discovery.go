package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// NodeInfo is the identity an agent reports on its /v1/info endpoint.
type NodeInfo struct {
	NodeID         string   `json:"node_id"`
	Hostname       string   `json:"hostname"`
	Version        string   `json:"version"`
	Capabilities   []string `json:"capabilities"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// Discoverer probes a configured set of candidate addresses for live
// agents and registers the responsive ones. Discovery is restartable:
// every sweep re-probes the whole candidate list, so nodes that were down
// during one sweep are picked up by the next without a process restart.
type Discoverer struct {
	registry   *Registry
	candidates []string
	localAddrs map[string]bool
	client     *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	interval   time.Duration
}

// DiscovererConfig holds discovery tuning.
type DiscovererConfig struct {
	Candidates      []string // addresses to probe, host:port
	LocalAddrs      []string // subset considered local machine endpoints
	Timeout         time.Duration
	Interval        time.Duration
	ProbesPerSecond float64
}

// NewDiscoverer creates a Discoverer over a static candidate list.
func NewDiscoverer(r *Registry, cfg DiscovererConfig) *Discoverer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ProbesPerSecond <= 0 {
		cfg.ProbesPerSecond = 20
	}
	local := make(map[string]bool, len(cfg.LocalAddrs))
	for _, a := range cfg.LocalAddrs {
		local[a] = true
	}
	return &Discoverer{
		registry:   r,
		candidates: cfg.Candidates,
		localAddrs: local,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), 1),
		timeout:    cfg.Timeout,
		interval:   cfg.Interval,
	}
}

// Start launches periodic discovery sweeps until ctx is cancelled. The
// first sweep runs immediately.
func (d *Discoverer) Start(ctx context.Context) {
	go func() {
		d.Sweep(ctx)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep(ctx)
			}
		}
	}()
}

// Sweep lazily walks the candidate list, probing each address in turn and
// registering responders as they are found. A single unreachable address
// is logged and skipped; it never aborts the rest of the scan.
func (d *Discoverer) Sweep(ctx context.Context) int {
	found := 0
	for node := range d.Discover(ctx) {
		d.registry.Register(node)
		found++
	}
	return found
}

// Discover returns a lazy sequence of candidate nodes. The channel is
// closed when the candidate list is exhausted or ctx is cancelled.
func (d *Discoverer) Discover(ctx context.Context) <-chan Node {
	out := make(chan Node)
	go func() {
		defer close(out)
		for _, addr := range d.candidates {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			node, err := d.probe(ctx, addr)
			if err != nil {
				log.Printf("discovery: %s not responding: %v", addr, err)
				continue
			}
			select {
			case out <- node:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (d *Discoverer) probe(ctx context.Context, addr string) (Node, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/v1/info", addr), nil)
	if err != nil {
		return Node{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Node{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Node{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var info NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Node{}, fmt.Errorf("decode info: %w", err)
	}
	if info.NodeID == "" {
		return Node{}, fmt.Errorf("agent at %s reported empty node id", addr)
	}
	return Node{
		ID:             info.NodeID,
		Address:        addr,
		Local:          d.localAddrs[addr],
		Capabilities:   info.Capabilities,
		MaxConcurrency: info.MaxConcurrency,
	}, nil
}
