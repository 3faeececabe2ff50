// Package server exposes the resilience layer over a local JSON API plus a
// websocket state feed, so UI collaborators can read state and report
// visibility.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"collabsync/internal/coordinator"
	"collabsync/internal/history"
	"collabsync/internal/netmon"
	"collabsync/internal/platform"
)

const defaultTimelineMinutes = 240

// Server wraps HTTP serving of the status API.
type Server struct {
	httpServer *http.Server
	monitor    *netmon.Monitor
	coord      *coordinator.Coordinator
	hub        *platform.Hub
}

// New creates a configured HTTP server.
func New(addr string, monitor *netmon.Monitor, coord *coordinator.Coordinator, hub *platform.Hub) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		monitor:    monitor,
		coord:      coord,
		hub:        hub,
	}
	s.registerRoutes(mux)
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/quality", s.handleQuality)
	mux.HandleFunc("/api/phase", s.handlePhase)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/timeline", s.handleTimeline)
	mux.HandleFunc("/api/visibility", s.handleVisibility)
	mux.HandleFunc("/ws/state", s.handleStateWS)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.monitor.CurrentState()
	score := netmon.Score(state)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":        state,
		"score":        score,
		"band":         netmon.Band(score),
		"generated_at": time.Now().UTC(),
	})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.TestConnectionQuality(r.Context()))
}

func (s *Server) handlePhase(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history":      s.monitor.HistorySince(since),
		"generated_at": time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, netmon.ComputeStats(s.monitor.History()))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-defaultTimelineMinutes * time.Minute)
	points := history.DefaultTimelinePoints

	writeJSON(w, http.StatusOK, map[string]any{
		"timeline":     history.BuildTimeline(s.monitor.HistorySince(start), start, end, points),
		"range_start":  start,
		"range_end":    end,
		"generated_at": end,
	})
}

// handleVisibility lets the UI report foreground/background transitions.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Visible *bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Visible == nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	s.hub.ReportVisibility(*payload.Visible)
	writeJSON(w, http.StatusOK, map[string]any{"visible": *payload.Visible})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
