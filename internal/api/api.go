// Package api provides a lightweight read-only HTTP status server, so an
// operator (or a dashboard) can check the supervisor's state without
// going through SMS.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/config"
	"github.com/antigravity-dev/orchestrator/internal/model"
)

// DocumentStore is the narrow slice of store.Document the API reads.
type DocumentStore interface {
	AutonomyLevel() model.AutonomyLevel
	RecentDecisions(n int) []model.DecisionRecord
}

// SessionLister is the narrow slice of session.Registry the API reads.
type SessionLister interface {
	All() []model.Session
}

// Server is the read-only status HTTP server.
type Server struct {
	cfgMgr     config.ConfigManager
	doc        DocumentStore
	sessions   SessionLister
	startTime  time.Time
	httpServer *http.Server
}

// NewServer constructs a Server. Call Start to begin listening.
func NewServer(cfgMgr config.ConfigManager, doc DocumentStore, sessions SessionLister) *Server {
	return &Server{cfgMgr: cfgMgr, doc: doc, sessions: sessions, startTime: time.Now()}
}

// Start begins listening on the configured bind address, blocking until
// ctx is cancelled. If the API is disabled in config, it returns
// immediately without binding a port.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgMgr.Get()
	if !cfg.API.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/decisions", s.handleDecisions)

	s.httpServer = &http.Server{
		Addr:        cfg.API.Bind,
		Handler:     mux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"uptimeSeconds": int64(time.Since(s.startTime).Seconds())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	recent := s.doc.RecentDecisions(1)
	resp := map[string]any{
		"autonomyLevel": s.doc.AutonomyLevel().String(),
	}
	if len(recent) > 0 {
		resp["lastThinkAt"] = recent[len(recent)-1].TS
	}
	writeJSON(w, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessions.All())
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.doc.RecentDecisions(20))
}
