package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
listen_addr: ":9090"
source_dir: /var/spool/papermill
discovery:
  addresses: ["worker-1:8081", "worker-2:8081"]
throttle:
  high_watermark: 85
  low_watermark: 65
  step: 2
extraction:
  floor: 40
  stages:
    - capability: ocr-accurate
      cost_rank: 3
      stop_threshold: 60
      timeout_seconds: 120
    - capability: text-layer
      cost_rank: 1
      stop_threshold: 80
    - capability: ocr-fast
      cost_rank: 2
      stop_threshold: 75
consensus:
  min_agreement: 0.5
  voters:
    - id: model-a
      capability: classify-a
      primary: true
    - id: model-b
      capability: classify-b
scheduler:
  retry_limit: 5
  retry_backoff_seconds: 1
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigSortsStagesByCost(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	stages := cfg.Stages()
	if len(stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(stages))
	}
	want := []string{"text-layer", "ocr-fast", "ocr-accurate"}
	for i, w := range want {
		if stages[i].Capability != w {
			t.Fatalf("stage[%d] = %s, want %s (cheapest first)", i, stages[i].Capability, w)
		}
	}
	if stages[1].Timeout != 60*time.Second {
		t.Errorf("default stage timeout = %v, want 60s", stages[1].Timeout)
	}
	if stages[2].Timeout != 120*time.Second {
		t.Errorf("configured timeout = %v, want 120s", stages[2].Timeout)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7777")
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("listen addr = %s, env must override the file", cfg.ListenAddr)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %s, want :8080", cfg.ListenAddr)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no stages", func(c *Config) { c.Extraction.Stages = nil }},
		{"unnamed stage", func(c *Config) { c.Extraction.Stages[0].Capability = "" }},
		{"no voters", func(c *Config) { c.Consensus.Voters = nil }},
		{"voter without id", func(c *Config) { c.Consensus.Voters[0].ID = "" }},
		{"no candidates", func(c *Config) { c.Discovery.Addresses = nil }},
		{"inverted watermarks", func(c *Config) {
			c.Throttle.LowWatermark = 90
			c.Throttle.HighWatermark = 70
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, sampleConfig))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted a config that cannot make progress")
			}
		})
	}
}

func TestVoterConversionKeepsPrimaryFlag(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	voters := cfg.Voters()
	if len(voters) != 2 {
		t.Fatalf("voters = %d, want 2", len(voters))
	}
	if !voters[0].Primary || voters[1].Primary {
		t.Errorf("primary flags = %v/%v, want only model-a primary", voters[0].Primary, voters[1].Primary)
	}
}
