package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// Registry tracks which project has an active session, on top of a
// Manager's stateless backend calls. The supervisor has no other record of
// "is project X currently running" — the Scan Loop and Executor share this
// single in-memory map so a project is never double-dispatched.
type Registry struct {
	mgr *Manager

	mu       sync.Mutex
	sessions map[string]model.Session // keyed by project name
}

// NewRegistry wraps mgr with active-session bookkeeping.
func NewRegistry(mgr *Manager) *Registry {
	return &Registry{mgr: mgr, sessions: make(map[string]model.Session)}
}

// IsRunning reports whether project currently has a tracked, live session.
func (r *Registry) IsRunning(project string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[project]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.mgr.IsSessionAlive(sess.SessionName)
}

// Count returns the number of projects with a tracked active session.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Get returns the tracked session for project, if any.
func (r *Registry) Get(project string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[project]
	return sess, ok
}

// All returns a snapshot of every tracked session.
func (r *Registry) All() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Start dispatches project into a new session and records it as active.
// Returns an error without dispatching if project already has one. The
// lock is held across the dispatch, so two concurrent Starts for the same
// project cannot both launch a session.
func (r *Registry) Start(ctx context.Context, project, agentCmd, workDir, prompt, headBefore string) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[project]; ok {
		return model.Session{}, fmt.Errorf("session: %s already has an active session", project)
	}

	name, err := r.mgr.DispatchToSession(ctx, project, agentCmd, workDir)
	if err != nil {
		return model.Session{}, err
	}

	sess := model.Session{
		ProjectName: project,
		SessionName: name,
		StartedAt:   time.Now(),
		HeadBefore:  headBefore,
		Prompt:      prompt,
		Status:      model.SessionRunning,
	}

	r.sessions[project] = sess
	return sess, nil
}

// Stop kills project's active session and un-tracks it.
func (r *Registry) Stop(project string) error {
	r.mu.Lock()
	sess, ok := r.sessions[project]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %s has no active session", project)
	}

	err := r.mgr.KillSession(sess.SessionName)

	r.mu.Lock()
	delete(r.sessions, project)
	r.mu.Unlock()
	return err
}

// Forget un-tracks project's session without killing it — used once the
// Scan Loop has observed the underlying process already ended.
func (r *Registry) Forget(project string) {
	r.mu.Lock()
	delete(r.sessions, project)
	r.mu.Unlock()
}
