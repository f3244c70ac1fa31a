// Package httpapi exposes the watchdog's local status endpoint. It is a
// read-only surface; all control flows through the chat commands.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wvh-ops/watchdogd/internal/hostinfo"
	"github.com/wvh-ops/watchdogd/internal/lifecycle"
	"github.com/wvh-ops/watchdogd/internal/playertrack"
)

// Coordinator is the lifecycle surface the status endpoint reads from.
type Coordinator interface {
	Status() lifecycle.StatusView
	EventLog() *lifecycle.EventLog
}

// Presence reports player presence for the status payload. May be nil.
type Presence interface {
	Snapshot() playertrack.Summary
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the /statusz payload.
type StatusResponse struct {
	Workload       string                      `json:"workload"`
	State          lifecycle.RunState          `json:"state"`
	Desired        lifecycle.DesiredState      `json:"desired"`
	PendingRestart bool                        `json:"pending_restart"`
	UptimeSeconds  int64                       `json:"uptime_seconds"`
	Host           hostinfo.Snapshot           `json:"host"`
	Players        *playertrack.Summary        `json:"players,omitempty"`
	RecentEvents   []lifecycle.TransitionEvent `json:"recent_events"`
}

// Server serves /healthz and /statusz on a local address.
type Server struct {
	coordinator Coordinator
	presence    Presence
	addr        string
	startedAt   time.Time

	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
	running  bool
}

// NewServer creates a status Server. presence may be nil.
func NewServer(addr string, coordinator Coordinator, presence Presence) *Server {
	return &Server{
		coordinator: coordinator,
		presence:    presence,
		addr:        addr,
		startedAt:   time.Now(),
	}
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/statusz", s.handleStatusz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("status server error: %v\n", err)
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w)
		return
	}
	s.writeJSON(w, http.StatusOK, &HealthResponse{Status: "ok"})
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w)
		return
	}

	view := s.coordinator.Status()
	resp := &StatusResponse{
		Workload:       view.WorkloadID,
		State:          view.State,
		Desired:        view.Desired,
		PendingRestart: view.PendingRestart,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Host:           hostinfo.Sample(),
		RecentEvents:   s.coordinator.EventLog().Recent(10),
	}
	if s.presence != nil {
		summary := s.presence.Snapshot()
		resp.Players = &summary
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", "GET")
	w.WriteHeader(http.StatusMethodNotAllowed)
}
