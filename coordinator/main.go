package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/papermill-io/papermill/coordinator/consensus"
	"github.com/papermill-io/papermill/coordinator/extract"
	"github.com/papermill-io/papermill/coordinator/fields"
	"github.com/papermill-io/papermill/coordinator/monitor"
	"github.com/papermill-io/papermill/coordinator/registry"
	"github.com/papermill-io/papermill/coordinator/scheduler"
	"github.com/papermill-io/papermill/coordinator/source"
	"github.com/papermill-io/papermill/coordinator/store"
	"github.com/papermill-io/papermill/coordinator/streaming"
	"github.com/papermill-io/papermill/coordinator/throttle"
	"github.com/papermill-io/papermill/coordinator/timeline"
)

const staleSweepPeriod = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to coordinator config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := openStore(ctx, cfg)
	defer st.Close()

	reg := registry.New(registry.WithWindowSize(cfg.Monitor.WindowSize))

	disc := registry.NewDiscoverer(reg, registry.DiscovererConfig{
		Candidates: cfg.Discovery.Addresses,
		LocalAddrs: cfg.Discovery.LocalAddresses,
		Timeout:    time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second,
		Interval:   time.Duration(cfg.Discovery.IntervalSeconds) * time.Second,
	})
	disc.Start(ctx)

	mon := monitor.New(reg, monitor.NewHTTPProber(), cfg.MonitorConfig())
	mon.Start(ctx)

	ctrl := throttle.New(reg, cfg.ThrottleConfig())
	ctrl.Start(ctx)

	go sweepStale(ctx, reg)

	dispatcher := scheduler.NewDispatcher(reg)
	cascade := extract.New(cfg.Stages(), cfg.Extraction.Floor, dispatcher)
	resolver := consensus.New(cfg.Voters(), dispatcher, cfg.ConsensusConfig())

	var fieldExt fields.Extractor = fields.Passthrough{}
	if cfg.FieldsEndpoint != "" {
		fieldExt = fields.NewHTTPExtractor(cfg.FieldsEndpoint, 30*time.Second)
	}

	tl := timeline.NewStore()
	pub := streaming.NewLogPublisher()
	defer pub.Close()

	sched := scheduler.New(reg, cascade, resolver, fieldExt, st,
		scheduler.NewStoreSink(st), tl, pub, cfg.SchedulerConfig())
	sched.Start(ctx)

	if cfg.SourceDir != "" {
		ing := NewIngester(source.NewDirSource(cfg.SourceDir), sched)
		go ing.Run(ctx)
	}

	api := NewAPI(reg, sched, tl)
	go api.hub.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("coordinator listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}

	// Let in-flight documents settle before the process exits.
	sched.Wait()
	log.Printf("coordinator stopped")
}

// openStore picks the most durable backend configured: Postgres, then
// Redis, then in-memory. The in-memory store loses dedup claims on
// restart and is meant for development only.
func openStore(ctx context.Context, cfg *Config) store.Store {
	if cfg.PostgresURL != "" {
		st, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("connecting to postgres: %v", err)
		}
		log.Printf("store: postgres")
		return st
	}
	if cfg.RedisAddr != "" {
		st, err := store.NewRedisStore(cfg.RedisAddr, "", 0)
		if err != nil {
			log.Fatalf("connecting to redis: %v", err)
		}
		log.Printf("store: redis at %s", cfg.RedisAddr)
		return st
	}
	log.Printf("store: in-memory (no persistence configured)")
	return store.NewMemoryStore()
}

// sweepStale marks nodes whose heartbeats stopped arriving. Probe
// failures handle the fast path; this catches agents that die between
// monitor cycles.
func sweepStale(ctx context.Context, reg *registry.Registry) {
	ticker := time.NewTicker(staleSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.SweepStale(3 * staleSweepPeriod)
		}
	}
}
