// Package fields defines the structured-field extraction collaborator,
// consumed between a document's classification and its resolution.
package fields

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Extractor maps extracted text plus a document type to a flat field map.
type Extractor interface {
	Invoke(ctx context.Context, text, documentType string) (map[string]string, error)
}

// HTTPExtractor calls an external field-extraction service.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExtractor creates an extractor against the given endpoint URL.
func NewHTTPExtractor(endpoint string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExtractor) Invoke(ctx context.Context, text, documentType string) (map[string]string, error) {
	payload, err := json.Marshal(map[string]string{
		"text":          text,
		"document_type": documentType,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fields: extractor returned status %d", resp.StatusCode)
	}

	var out struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("fields: decode: %w", err)
	}
	return out.Fields, nil
}

// Passthrough is a no-op extractor for deployments without a field
// extraction service; classified documents resolve with an empty field map.
type Passthrough struct{}

func (Passthrough) Invoke(ctx context.Context, text, documentType string) (map[string]string, error) {
	return map[string]string{}, nil
}
