package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/papermill-io/papermill/coordinator/consensus"
	"github.com/papermill-io/papermill/coordinator/extract"
	"github.com/papermill-io/papermill/coordinator/registry"
)

// Dispatcher routes capability invocations onto the fleet. For every call
// it re-evaluates admission: candidates are listed by ascending load, and
// a slot is acquired on the first node with free admitted concurrency.
// It implements extract.Invoker and consensus.Caller.
type Dispatcher struct {
	registry *registry.Registry
	client   *http.Client
}

// NewDispatcher creates a Dispatcher over the registry.
func NewDispatcher(r *registry.Registry) *Dispatcher {
	return &Dispatcher{
		registry: r,
		// Per-call deadlines come from contexts; this is a backstop.
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// pick claims a slot on the least-loaded Healthy node carrying the
// capability. The returned release must be called exactly once.
func (d *Dispatcher) pick(capability string) (registry.Status, func(), error) {
	candidates := d.registry.List(capability, registry.Healthy)
	if len(candidates) == 0 {
		return registry.Status{}, nil, fmt.Errorf("dispatch: no healthy node carries capability %q", capability)
	}
	for _, c := range candidates {
		if err := d.registry.Acquire(c.Node.ID); err == nil {
			nodeID := c.Node.ID
			return c, func() { d.registry.Release(nodeID) }, nil
		}
	}
	return registry.Status{}, nil, fmt.Errorf("dispatch: capability %q: %w", capability, registry.ErrNoSlot)
}

// Invoke runs one extraction stage on an admitted node.
func (d *Dispatcher) Invoke(ctx context.Context, capability string, content []byte, timeout time.Duration) (extract.Result, error) {
	node, release, err := d.pick(capability)
	if err != nil {
		return extract.Result{}, err
	}
	defer release()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	err = d.post(ctx, node, "/v1/extract", map[string]interface{}{
		"capability": capability,
		"content":    content, // base64 over the wire
	}, &out)
	if err != nil {
		return extract.Result{}, err
	}
	return extract.Result{Text: out.Text, Confidence: out.Confidence}, nil
}

// Call dispatches one classification request to a voter's capability.
func (d *Dispatcher) Call(ctx context.Context, voter consensus.Voter, text, targetCategory string) (consensus.Ballot, error) {
	node, release, err := d.pick(voter.Capability)
	if err != nil {
		return consensus.Ballot{}, err
	}
	defer release()

	var out struct {
		Category  string            `json:"category"`
		ItemCount int               `json:"item_count"`
		Fields    map[string]string `json:"fields"`
	}
	err = d.post(ctx, node, "/v1/classify", map[string]interface{}{
		"capability":      voter.Capability,
		"text":            text,
		"target_category": targetCategory,
	}, &out)
	if err != nil {
		return consensus.Ballot{}, err
	}
	return consensus.Ballot{
		VoterID:   voter.ID,
		Category:  out.Category,
		ItemCount: out.ItemCount,
		Fields:    out.Fields,
	}, nil
}

func (d *Dispatcher) post(ctx context.Context, node registry.Status, path string, payload interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s%s", node.Node.Address, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// An observed failure feeds the same streak as a failed probe,
		// but not when we hung up: a cancelled call says nothing about
		// the node.
		if ctx.Err() == nil {
			d.registry.ProbeFailed(node.Node.ID)
		}
		return fmt.Errorf("dispatch: node %s: %w", node.Node.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dispatch: node %s returned status %d", node.Node.ID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dispatch: node %s: decode: %w", node.Node.ID, err)
	}
	return nil
}
