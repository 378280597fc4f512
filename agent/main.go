package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "", "path to agent config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	log.Printf("agent starting, node id %s", cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Registration loop with backoff. The coordinator may come up after
	// us; keep trying until it answers or we are told to stop.
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := sendRegistration(cfg); err == nil {
			break
		} else {
			log.Printf("registration failed: %v, retrying in %s", err, backoff)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	sampler := NewSampler()
	// Prime the CPU counters so the first heartbeat carries a real value.
	sampler.Sample()

	go startHeartbeatLoop(ctx, cfg, sampler)

	executor := NewExecutor(cfg)
	server := NewServer(cfg, executor, sampler)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		log.Fatalf("http server: %v", err)
	case <-ctx.Done():
	}
	log.Println("agent shutting down")
}
