package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Prober queries a node endpoint for a resource snapshot.
type Prober interface {
	Probe(ctx context.Context, address string) (Snapshot, error)
}

// HTTPProber samples agents over their /v1/resources endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with its own HTTP client. Per-probe
// deadlines come from the caller's context; the client timeout is a
// backstop only.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Probe fetches a snapshot from the agent at address.
func (p *HTTPProber) Probe(ctx context.Context, address string) (Snapshot, error) {
	url := fmt.Sprintf("http://%s/v1/resources", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("probe %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("probe %s: status %d", address, resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("probe %s: decode: %w", address, err)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now()
	}
	return snap, nil
}
