package session

import (
	"context"
	"fmt"
	"time"
)

// Backend abstracts the mechanism a coding session runs under, so the Scan
// Loop and Executor never branch on tmux vs. docker directly.
type Backend interface {
	Launch(ctx context.Context, sessionName, agentCmd, workDir string) error
	IsAlive(sessionName string) bool
	Status(sessionName string) (status string, exitCode int)
	CaptureOutput(sessionName string) (string, error)
	Kill(sessionName string) error
}

// tmuxAdapter adapts the package-level tmux functions to the Backend interface.
type tmuxAdapter struct{ *TmuxBackend }

func (tmuxAdapter) IsAlive(sessionName string) bool                      { return IsSessionAlive(sessionName) }
func (tmuxAdapter) Status(sessionName string) (string, int)              { return Status(sessionName) }
func (tmuxAdapter) CaptureOutput(sessionName string) (string, error)     { return CaptureOutput(sessionName) }
func (tmuxAdapter) Kill(sessionName string) error                        { return KillSession(sessionName) }

// dockerAdapter adapts *DockerBackend's methods (named Status/CaptureOutput/etc.
// already match Backend) with no renaming needed; it exists to document the
// pairing and host shutdown/cleanup helpers specific to the docker backend.
type dockerAdapter struct{ *DockerBackend }

// Manager selects tmux or docker per configuration and exposes the uniform
// session lifecycle operations the rest of the supervisor calls.
type Manager struct {
	backend Backend
	kind    string
}

// NewManager constructs a Manager for the configured backend kind
// ("tmux" or "docker").
func NewManager(kind string) (*Manager, error) {
	switch kind {
	case "", "tmux":
		return &Manager{backend: tmuxAdapter{NewTmuxBackend()}, kind: "tmux"}, nil
	case "docker":
		b, err := NewDockerBackend()
		if err != nil {
			return nil, err
		}
		return &Manager{backend: dockerAdapter{b}, kind: "docker"}, nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", kind)
	}
}

// DispatchToSession launches agentCmd for project inside a new session and
// returns the session name assigned to it.
func (m *Manager) DispatchToSession(ctx context.Context, project, agentCmd, workDir string) (string, error) {
	name := SessionName(project)
	if err := m.backend.Launch(ctx, name, agentCmd, workDir); err != nil {
		return "", err
	}
	return name, nil
}

// IsSessionAlive reports whether the session still exists (command may
// have already exited, depending on backend semantics).
func (m *Manager) IsSessionAlive(sessionName string) bool {
	return m.backend.IsAlive(sessionName)
}

// SessionStatus returns "running", "exited", or "gone" plus the exit code
// when known.
func (m *Manager) SessionStatus(sessionName string) (string, int) {
	return m.backend.Status(sessionName)
}

// CaptureOutput returns the session's accumulated output.
func (m *Manager) CaptureOutput(sessionName string) (string, error) {
	return m.backend.CaptureOutput(sessionName)
}

// KillSession terminates a session.
func (m *Manager) KillSession(sessionName string) error {
	return m.backend.Kill(sessionName)
}

// SendKeys injects keystrokes into a running session. Only meaningful for
// the tmux backend; docker sessions are non-interactive.
func (m *Manager) SendKeys(sessionName, keys string) error {
	if m.kind != "tmux" {
		return fmt.Errorf("session: SendKeys unsupported on backend %q", m.kind)
	}
	return SendKeys(sessionName, keys)
}

// ListSessions returns every supervisor-managed session name.
func (m *Manager) ListSessions() ([]string, error) {
	if m.kind == "tmux" {
		return ListSessions()
	}
	return nil, fmt.Errorf("session: ListSessions unsupported on backend %q", m.kind)
}

// CleanDeadSessions removes every managed session whose command has exited.
func (m *Manager) CleanDeadSessions() int {
	if m.kind == "docker" {
		if d, ok := m.backend.(dockerAdapter); ok {
			return d.DockerBackend.CleanDeadSessions()
		}
		return 0
	}
	return CleanDeadSessions()
}

// GracefulShutdown drains running sessions on process shutdown: SIGINT,
// wait up to timeout, then force-kill survivors. Tmux-only; docker sessions
// are reaped individually by the caller via KillSession.
func (m *Manager) GracefulShutdown(timeout time.Duration) {
	if m.kind == "tmux" {
		GracefulShutdown(timeout)
	}
}

// Kind reports which backend this manager is using ("tmux" or "docker").
func (m *Manager) Kind() string {
	return m.kind
}

// newManagerWithBackend builds a Manager around an arbitrary Backend,
// for tests that need to fake session lifecycle without a real tmux/docker
// daemon.
func newManagerWithBackend(backend Backend, kind string) *Manager {
	return &Manager{backend: backend, kind: kind}
}

// NewManagerForTesting exposes newManagerWithBackend to other packages'
// tests (e.g. internal/executor) that need a Registry backed by a fake
// Backend rather than a real tmux/docker daemon.
func NewManagerForTesting(backend Backend) *Manager {
	return newManagerWithBackend(backend, "tmux")
}
