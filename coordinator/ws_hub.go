package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papermill-io/papermill/coordinator/observability"
	"github.com/papermill-io/papermill/coordinator/registry"
	"github.com/papermill-io/papermill/coordinator/scheduler"
)

const (
	maxWSClients    = 64
	wsWriteTimeout  = 5 * time.Second
	broadcastPeriod = 1 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MetricsHub pushes a live snapshot of pipeline state to connected
// websocket clients once per second.
type MetricsHub struct {
	api *API

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewMetricsHub(api *API) *MetricsHub {
	return &MetricsHub{
		api:     api,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

type wsFrame struct {
	Timestamp time.Time         `json:"timestamp"`
	Stats     scheduler.Stats   `json:"stats"`
	Nodes     []registry.Status `json:"nodes"`
}

// Run broadcasts until ctx is cancelled.
func (h *MetricsHub) Run(ctx context.Context) {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast(ctx)
		}
	}
}

func (h *MetricsHub) broadcast(ctx context.Context) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	frame := wsFrame{
		Timestamp: time.Now().UTC(),
		Stats:     h.api.scheduler.Stats(ctx),
		Nodes:     h.api.registry.List("", registry.Unreachable),
	}
	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteJSON(frame); err != nil {
			h.drop(c)
		}
	}
}

func (h *MetricsHub) add(c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxWSClients {
		return false
	}
	h.clients[c] = struct{}{}
	observability.WSClients.Set(float64(len(h.clients)))
	return true
}

func (h *MetricsHub) drop(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
		observability.WSClients.Set(float64(len(h.clients)))
	}
}

func (h *MetricsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.WSClients.Set(0)
}

func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	if !a.hub.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many clients"),
			time.Now().Add(wsWriteTimeout))
		conn.Close()
		return
	}
	// Drain reads so pings and close frames are processed.
	go func() {
		defer a.hub.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
