package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func testExecutorConfig(capabilities ...CapabilityConfig) *Config {
	return &Config{MaxConcurrency: 2, Capabilities: capabilities}
}

func TestRunPipesStdinToCommand(t *testing.T) {
	e := NewExecutor(testExecutorConfig(CapabilityConfig{
		Name:    "text-layer",
		Command: `cat | sed 's/^/{"text":"/;s/$/","confidence":90}/'`,
	}))

	out, err := e.Run(context.Background(), "text-layer", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("output %q not valid JSON: %v", out, err)
	}
	if result.Text != "hello" || result.Confidence != 90 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunUnknownCapability(t *testing.T) {
	e := NewExecutor(testExecutorConfig(CapabilityConfig{Name: "a", Command: "true"}))
	if _, err := e.Run(context.Background(), "nope", nil); err == nil {
		t.Fatal("expected an error for an unadvertised capability")
	}
}

func TestRunCommandFailure(t *testing.T) {
	e := NewExecutor(testExecutorConfig(CapabilityConfig{Name: "broken", Command: "echo oops >&2; exit 3"}))
	_, err := e.Run(context.Background(), "broken", nil)
	if err == nil {
		t.Fatal("expected a failure")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q should name the capability", err)
	}
}

func TestRunTimeout(t *testing.T) {
	e := NewExecutor(testExecutorConfig(CapabilityConfig{
		Name: "slow", Command: "sleep 10", TimeoutSeconds: 1,
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Run(ctx, "slow", nil); err == nil {
		t.Fatal("expected the cancelled context to stop the command")
	}
}
