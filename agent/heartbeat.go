package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/papermill-io/papermill/coordinator/monitor"
)

const heartbeatInterval = 5 * time.Second

// sendRegistration registers the agent with the coordinator.
func sendRegistration(cfg *Config) error {
	payload := map[string]interface{}{
		"node_id":         cfg.NodeID,
		"hostname":        cfg.Hostname,
		"version":         cfg.Version,
		"address":         cfg.Address,
		"local":           cfg.Local,
		"capabilities":    cfg.CapabilityNames(),
		"max_concurrency": cfg.MaxConcurrency,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal registration payload: %w", err)
	}

	resp, err := http.Post(
		cfg.CoordinatorURL+"/v1/agents/register",
		"application/json",
		bytes.NewBuffer(data),
	)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration failed with status code: %d", resp.StatusCode)
	}

	log.Printf("registered with coordinator as %s (capabilities %v)",
		cfg.NodeID, cfg.CapabilityNames())
	return nil
}

// sendHeartbeat pushes one utilization snapshot to the coordinator.
// A 404 means the coordinator restarted and lost us; re-register.
func sendHeartbeat(cfg *Config, snap monitor.Snapshot) {
	payload := map[string]interface{}{
		"node_id":  cfg.NodeID,
		"snapshot": snap,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("error marshaling heartbeat: %v", err)
		return
	}

	resp, err := http.Post(
		cfg.CoordinatorURL+"/v1/agents/heartbeat",
		"application/json",
		bytes.NewBuffer(data),
	)
	if err != nil {
		log.Printf("error sending heartbeat: %v", err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		log.Printf("coordinator does not know us, re-registering")
		if err := sendRegistration(cfg); err != nil {
			log.Printf("re-registration failed: %v", err)
		}
	case http.StatusTooManyRequests:
		log.Printf("heartbeat rate limited, backing off")
	default:
		log.Printf("heartbeat failed with status: %d", resp.StatusCode)
	}
}

// startHeartbeatLoop runs until the context is cancelled.
func startHeartbeatLoop(ctx context.Context, cfg *Config, sampler *Sampler) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sendHeartbeat(cfg, sampler.Sample())
		case <-ctx.Done():
			log.Println("heartbeat loop stopping")
			return
		}
	}
}
