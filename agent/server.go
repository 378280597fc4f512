package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Server is the agent's HTTP surface. The coordinator probes /v1/info
// during discovery, polls /v1/resources, and dispatches work to
// /v1/extract and /v1/classify.
type Server struct {
	cfg      *Config
	executor *Executor
	sampler  *Sampler
}

func NewServer(cfg *Config, executor *Executor, sampler *Sampler) *Server {
	return &Server{cfg: cfg, executor: executor, sampler: sampler}
}

// Start blocks serving HTTP until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/info", s.handleInfo)
	mux.HandleFunc("GET /v1/resources", s.handleResources)
	mux.HandleFunc("POST /v1/extract", s.handleExtract)
	mux.HandleFunc("POST /v1/classify", s.handleClassify)

	log.Printf("agent HTTP server listening on %s", s.cfg.ListenAddr)
	srv := &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":         s.cfg.NodeID,
		"hostname":        s.cfg.Hostname,
		"version":         s.cfg.Version,
		"capabilities":    s.cfg.CapabilityNames(),
		"max_concurrency": s.cfg.MaxConcurrency,
	})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sampler.Sample())
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capability string `json:"capability"`
		Content    []byte `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := s.executor.Run(r.Context(), req.Capability, req.Content)
	if err != nil {
		status := http.StatusInternalServerError
		if err == ErrBusy {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	// The command's stdout is the response, but validate it first so a
	// broken command surfaces as an agent error rather than a decode
	// failure on the coordinator.
	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		log.Printf("capability %s produced invalid output: %v", req.Capability, err)
		http.Error(w, "capability produced invalid output", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capability     string `json:"capability"`
		Text           string `json:"text"`
		TargetCategory string `json:"target_category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	stdin, err := json.Marshal(map[string]string{
		"text":            req.Text,
		"target_category": req.TargetCategory,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out, err := s.executor.Run(r.Context(), req.Capability, stdin)
	if err != nil {
		status := http.StatusInternalServerError
		if err == ErrBusy {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	var result struct {
		Category  string            `json:"category"`
		ItemCount int               `json:"item_count"`
		Fields    map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		log.Printf("capability %s produced invalid output: %v", req.Capability, err)
		http.Error(w, "capability produced invalid output", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
