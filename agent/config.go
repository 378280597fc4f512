package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// CapabilityConfig maps one advertised capability to the command that
// implements it. The command reads document content on stdin and writes
// a JSON result on stdout.
type CapabilityConfig struct {
	Name           string `yaml:"name"`
	Command        string `yaml:"command"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config holds the agent configuration and identity.
type Config struct {
	NodeID         string             `yaml:"-"`
	Hostname       string             `yaml:"-"`
	Version        string             `yaml:"-"`
	CoordinatorURL string             `yaml:"coordinator_url"`
	ListenAddr     string             `yaml:"listen_addr"`
	Address        string             `yaml:"address"` // address the coordinator reaches us at
	Local          bool               `yaml:"local"`
	MaxConcurrency int                `yaml:"max_concurrency"`
	Capabilities   []CapabilityConfig `yaml:"capabilities"`
}

// LoadConfig reads the agent YAML config and fills in identity fields.
// The node ID survives restarts so the coordinator sees the same node
// come back rather than a new one appearing.
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

	if v := os.Getenv("COORDINATOR_URL"); v != "" {
		cfg.CoordinatorURL = v
	}
	if cfg.CoordinatorURL == "" {
		cfg.CoordinatorURL = "http://localhost:8080"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8081"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if len(cfg.Capabilities) == 0 {
		return nil, fmt.Errorf("config: no capabilities configured")
	}

	nodeID, err := getOrCreateNodeID()
	if err != nil {
		return nil, fmt.Errorf("initializing node id: %w", err)
	}
	cfg.NodeID = nodeID

	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("warning: could not get hostname: %v", err)
		hostname = "unknown"
	}
	cfg.Hostname = hostname
	cfg.Version = "0.1.0"

	if cfg.Address == "" {
		port := cfg.ListenAddr
		if i := strings.LastIndex(port, ":"); i >= 0 {
			port = port[i+1:]
		}
		cfg.Address = fmt.Sprintf("%s:%s", hostname, port)
	}
	return cfg, nil
}

// CapabilityNames returns the names advertised during registration.
func (c *Config) CapabilityNames() []string {
	names := make([]string, 0, len(c.Capabilities))
	for _, capability := range c.Capabilities {
		names = append(names, capability.Name)
	}
	return names
}

// getOrCreateNodeID retrieves the existing node ID or generates a new
// one, persisted to ~/.papermill/node_id.
func getOrCreateNodeID() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".papermill")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	nodeIDPath := filepath.Join(configDir, "node_id")

	data, err := os.ReadFile(nodeIDPath)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	newID := uuid.NewString()
	if err := os.WriteFile(nodeIDPath, []byte(newID), 0600); err != nil {
		return "", fmt.Errorf("failed to save node ID to %s: %w", nodeIDPath, err)
	}
	return newID, nil
}
