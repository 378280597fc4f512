package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/papermill-io/papermill/coordinator/consensus"
	"github.com/papermill-io/papermill/coordinator/extract"
	"github.com/papermill-io/papermill/coordinator/monitor"
	"github.com/papermill-io/papermill/coordinator/scheduler"
	"github.com/papermill-io/papermill/coordinator/throttle"
)

// StageConfig configures one extraction stage in the cascade.
type StageConfig struct {
	Capability     string  `yaml:"capability"`
	CostRank       int     `yaml:"cost_rank"`
	StopThreshold  float64 `yaml:"stop_threshold"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// VoterConfig configures one consensus voter.
type VoterConfig struct {
	ID         string `yaml:"id"`
	Capability string `yaml:"capability"`
	Primary    bool   `yaml:"primary"`
}

// Config is the coordinator's YAML configuration. The watermarks, retry
// counts and confidence floors here were operationally tuned; they are
// deployment tunables, not contracts.
type Config struct {
	ListenAddr     string `yaml:"listen_addr"`
	PostgresURL    string `yaml:"postgres_url"`
	RedisAddr      string `yaml:"redis_addr"`
	SourceDir      string `yaml:"source_dir"`
	FieldsEndpoint string `yaml:"fields_endpoint"`

	Discovery struct {
		Addresses       []string `yaml:"addresses"`
		LocalAddresses  []string `yaml:"local_addresses"`
		IntervalSeconds int      `yaml:"interval_seconds"`
		TimeoutSeconds  int      `yaml:"timeout_seconds"`
	} `yaml:"discovery"`

	Monitor struct {
		PeriodSeconds        int `yaml:"period_seconds"`
		LocalTimeoutSeconds  int `yaml:"local_timeout_seconds"`
		RemoteTimeoutSeconds int `yaml:"remote_timeout_seconds"`
		WindowSize           int `yaml:"window_size"`
	} `yaml:"monitor"`

	Throttle struct {
		HighWatermark   float64 `yaml:"high_watermark"`
		LowWatermark    float64 `yaml:"low_watermark"`
		Step            int     `yaml:"step"`
		IntervalSeconds int     `yaml:"interval_seconds"`
	} `yaml:"throttle"`

	Extraction struct {
		Floor  float64       `yaml:"floor"`
		Stages []StageConfig `yaml:"stages"`
	} `yaml:"extraction"`

	Consensus struct {
		MinAgreement        float64       `yaml:"min_agreement"`
		VoterTimeoutSeconds int           `yaml:"voter_timeout_seconds"`
		Voters              []VoterConfig `yaml:"voters"`
	} `yaml:"consensus"`

	Scheduler struct {
		RetryLimit             int    `yaml:"retry_limit"`
		RetryBackoffSeconds    int    `yaml:"retry_backoff_seconds"`
		MaxRetryBackoffSeconds int    `yaml:"max_retry_backoff_seconds"`
		TargetCategory         string `yaml:"target_category"`
	} `yaml:"scheduler"`
}

// LoadConfig reads the YAML file at path and applies environment
// overrides for the connection addresses.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	sort.SliceStable(cfg.Extraction.Stages, func(i, j int) bool {
		return cfg.Extraction.Stages[i].CostRank < cfg.Extraction.Stages[j].CostRank
	})
	return cfg, nil
}

// Validate checks for the configuration errors that are fatal at process
// start: a pipeline with no stages, no voters or no candidate nodes can
// never make progress.
func (c *Config) Validate() error {
	if len(c.Extraction.Stages) == 0 {
		return errors.New("config: no extraction stages configured")
	}
	for _, s := range c.Extraction.Stages {
		if s.Capability == "" {
			return errors.New("config: extraction stage missing capability name")
		}
	}
	if len(c.Consensus.Voters) == 0 {
		return errors.New("config: no consensus voters configured")
	}
	for _, v := range c.Consensus.Voters {
		if v.ID == "" || v.Capability == "" {
			return errors.New("config: consensus voter missing id or capability")
		}
	}
	if len(c.Discovery.Addresses) == 0 {
		return errors.New("config: no candidate node addresses configured")
	}
	if c.Throttle.LowWatermark > 0 && c.Throttle.HighWatermark > 0 &&
		c.Throttle.LowWatermark >= c.Throttle.HighWatermark {
		return errors.New("config: throttle low watermark must sit below high watermark")
	}
	return nil
}

// Stages converts the configured stage list for the cascade.
func (c *Config) Stages() []extract.Stage {
	stages := make([]extract.Stage, 0, len(c.Extraction.Stages))
	for _, s := range c.Extraction.Stages {
		timeout := time.Duration(s.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		stages = append(stages, extract.Stage{
			Capability:    s.Capability,
			CostRank:      s.CostRank,
			StopThreshold: s.StopThreshold,
			Timeout:       timeout,
		})
	}
	return stages
}

// Voters converts the configured voter list for the resolver.
func (c *Config) Voters() []consensus.Voter {
	voters := make([]consensus.Voter, 0, len(c.Consensus.Voters))
	for _, v := range c.Consensus.Voters {
		voters = append(voters, consensus.Voter{
			ID:         v.ID,
			Capability: v.Capability,
			Primary:    v.Primary,
		})
	}
	return voters
}

// MonitorConfig converts the monitor section.
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		Period:        time.Duration(c.Monitor.PeriodSeconds) * time.Second,
		LocalTimeout:  time.Duration(c.Monitor.LocalTimeoutSeconds) * time.Second,
		RemoteTimeout: time.Duration(c.Monitor.RemoteTimeoutSeconds) * time.Second,
	}
}

// ThrottleConfig converts the throttle section.
func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		HighWatermark: c.Throttle.HighWatermark,
		LowWatermark:  c.Throttle.LowWatermark,
		Step:          c.Throttle.Step,
		Interval:      time.Duration(c.Throttle.IntervalSeconds) * time.Second,
	}
}

// SchedulerConfig converts the scheduler section.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		RetryLimit:      c.Scheduler.RetryLimit,
		RetryBackoff:    time.Duration(c.Scheduler.RetryBackoffSeconds) * time.Second,
		MaxRetryBackoff: time.Duration(c.Scheduler.MaxRetryBackoffSeconds) * time.Second,
		TargetCategory:  c.Scheduler.TargetCategory,
	}
}

// ConsensusConfig converts the consensus section.
func (c *Config) ConsensusConfig() consensus.Config {
	return consensus.Config{
		VoterTimeout: time.Duration(c.Consensus.VoterTimeoutSeconds) * time.Second,
		MinAgreement: c.Consensus.MinAgreement,
	}
}
