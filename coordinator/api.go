package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/papermill-io/papermill/coordinator/monitor"
	"github.com/papermill-io/papermill/coordinator/observability"
	"github.com/papermill-io/papermill/coordinator/registry"
	"github.com/papermill-io/papermill/coordinator/scheduler"
	"github.com/papermill-io/papermill/coordinator/timeline"
)

// API is the coordinator's HTTP surface: the operator commands plus the
// agent-facing registration and heartbeat endpoints.
type API struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	timeline  *timeline.Store
	hub       *MetricsHub

	// Storm protection for agent traffic.
	heartbeatLimiter *rate.Limiter
	registerLimiter  *rate.Limiter
}

// NewAPI wires the API over its collaborators.
func NewAPI(reg *registry.Registry, sched *scheduler.Scheduler, tl *timeline.Store) *API {
	api := &API{
		registry:  reg,
		scheduler: sched,
		timeline:  tl,
		// Allow 100 heartbeats/sec burst 200, 10 registrations/sec burst 20.
		heartbeatLimiter: rate.NewLimiter(rate.Limit(100), 200),
		registerLimiter:  rate.NewLimiter(rate.Limit(10), 20),
	}
	api.hub = NewMetricsHub(api)
	return api
}

// Routes builds the HTTP mux.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Operator surface.
	mux.HandleFunc("GET /v1/nodes", a.handleNodes)
	mux.HandleFunc("GET /v1/stats", a.handleStats)
	mux.HandleFunc("POST /v1/pipeline/pause", a.handlePause)
	mux.HandleFunc("POST /v1/pipeline/resume", a.handleResume)
	mux.HandleFunc("GET /v1/documents/{id}/timeline", a.handleTimeline)
	mux.HandleFunc("GET /ws", a.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Agent surface.
	mux.HandleFunc("POST /v1/agents/register", a.handleRegister)
	mux.HandleFunc("POST /v1/agents/heartbeat", a.handleHeartbeat)

	return mux
}

func (a *API) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.registry.List("", registry.Unreachable))
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.scheduler.Stats(r.Context()))
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events := a.timeline.Events(id)
	if len(events) == 0 {
		http.Error(w, "no events for document", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type registerRequest struct {
	registry.NodeInfo
	Address string `json:"address"`
	Local   bool   `json:"local"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.registerLimiter.Allow() {
		observability.APIRateLimited.WithLabelValues("register").Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NodeID == "" || req.Address == "" {
		http.Error(w, "node_id and address are required", http.StatusBadRequest)
		return
	}

	a.registry.Register(registry.Node{
		ID:             req.NodeID,
		Address:        req.Address,
		Local:          req.Local,
		Capabilities:   req.Capabilities,
		MaxConcurrency: req.MaxConcurrency,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type heartbeatRequest struct {
	NodeID   string            `json:"node_id"`
	Snapshot *monitor.Snapshot `json:"snapshot,omitempty"`
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !a.heartbeatLimiter.Allow() {
		observability.APIRateLimited.WithLabelValues("heartbeat").Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.registry.Heartbeat(req.NodeID, req.Snapshot); err != nil {
		http.Error(w, "unknown node, register first", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encoding response: %v", err)
	}
}
