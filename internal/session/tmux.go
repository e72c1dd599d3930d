// Package session manages the lifecycle of interactive coding sessions
// running inside detached tmux windows: launch, liveness, scrollback
// capture, keystroke injection, and termination.
package session

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix namespaces every supervisor-managed tmux session so it is
// trivially distinguishable from a human's own sessions.
const Prefix = "orch-"

// defaultHistoryLimit bounds scrollback so CaptureOutput stays bounded even
// for a session left running for hours.
const defaultHistoryLimit = 50000

// SessionName builds a unique, tmux-safe session name:
// orch-<project>-<shortID>, where shortID is 8 random hex characters from a
// fresh UUID. The project is lowercased and its dots, colons and spaces are
// replaced with hyphens, because tmux treats dots and colons as
// window/pane separators.
func SessionName(project string) string {
	sanitize := func(s string) string {
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, ".", "-")
		s = strings.ReplaceAll(s, ":", "-")
		s = strings.ReplaceAll(s, " ", "-")
		return s
	}
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s-%s", Prefix, sanitize(project), short)
}

// TmuxBackend launches and manages sessions as detached tmux windows.
type TmuxBackend struct {
	historyLimit int
}

// NewTmuxBackend returns a ready-to-use TmuxBackend.
func NewTmuxBackend() *TmuxBackend {
	return &TmuxBackend{historyLimit: defaultHistoryLimit}
}

// IsTmuxAvailable reports whether the tmux binary is on PATH and a server
// can be reached (or does not yet exist, which is not a failure).
func IsTmuxAvailable() bool {
	if _, err := exec.LookPath("tmux"); err != nil {
		return false
	}
	err := exec.Command("tmux", "list-sessions").Run()
	return err == nil || strings.Contains(errString(err), "no server running")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Launch starts agentCmd inside a new detached tmux session rooted at
// workDir. The command is wrapped in "exec" so pane_dead_status correctly
// reflects the agent's own exit code rather than a wrapping shell's.
func (b *TmuxBackend) Launch(ctx context.Context, sessionName, agentCmd, workDir string) error {
	shellCmd := "exec " + agentCmd

	args := []string{
		"new-session",
		"-d",
		"-s", sessionName,
		"-c", workDir,
		shellCmd,
	}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("session: tmux new-session %q: %w (%s)", sessionName, err, strings.TrimSpace(string(out)))
	}

	// remain-on-exit keeps the pane addressable after the command exits,
	// so SessionStatus can still distinguish "exited" from "gone".
	exec.Command("tmux", "set-option", "-t", sessionName, "remain-on-exit", "on").Run()
	exec.Command("tmux", "set-option", "-t", sessionName, "history-limit", strconv.Itoa(b.historyLimit)).Run()
	return nil
}

// IsSessionAlive reports whether the tmux session still exists, even if
// the command inside it has already exited.
func IsSessionAlive(sessionName string) bool {
	return exec.Command("tmux", "has-session", "-t", sessionName).Run() == nil
}

// Status distinguishes "running" (pane alive) from "exited" (pane dead,
// remain-on-exit preserved it, exitCode populated) from "gone" (no such
// session at all).
func Status(sessionName string) (status string, exitCode int) {
	if !IsSessionAlive(sessionName) {
		return "gone", -1
	}

	out, err := exec.Command(
		"tmux", "display-message",
		"-t", sessionName,
		"-p", "#{pane_dead} #{pane_dead_status}",
	).Output()
	if err != nil {
		return "running", 0
	}

	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) < 2 {
		return "running", 0
	}
	if fields[0] == "1" {
		code, _ := strconv.Atoi(fields[1])
		return "exited", code
	}
	return "running", 0
}

// CaptureOutput returns the full available scrollback for a session.
func CaptureOutput(sessionName string) (string, error) {
	out, err := exec.Command(
		"tmux", "capture-pane",
		"-t", sessionName,
		"-p",
		"-S", "-",
	).Output()
	if err != nil {
		return "", fmt.Errorf("session: capture-pane %q: %w", sessionName, err)
	}
	return strings.TrimRight(string(out), "\n "), nil
}

// SendKeys types text into a running session's pane followed by Enter.
func SendKeys(sessionName, keys string) error {
	return exec.Command("tmux", "send-keys", "-t", sessionName, keys, "Enter").Run()
}

// SendSignal sends a raw tmux key sequence (e.g. "C-c") without a trailing Enter.
func SendSignal(sessionName, signal string) error {
	return exec.Command("tmux", "send-keys", "-t", sessionName, signal).Run()
}

// KillSession terminates the session and its process tree. Killing an
// already-gone session is not an error.
func KillSession(sessionName string) error {
	if !IsSessionAlive(sessionName) {
		return nil
	}
	return exec.Command("tmux", "kill-session", "-t", sessionName).Run()
}

// ListSessions returns the names of every supervisor-managed tmux session,
// alive or exited.
func ListSessions() ([]string, error) {
	out, err := exec.Command("tmux", "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		if strings.Contains(errString(err), "no server") || strings.Contains(string(out), "no server") {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list-sessions: %w", err)
	}

	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, Prefix) {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

// CleanDeadSessions kills every managed session whose command has already
// exited, returning the count cleaned.
func CleanDeadSessions() int {
	sessions, err := ListSessions()
	if err != nil {
		return 0
	}
	cleaned := 0
	for _, name := range sessions {
		if status, _ := Status(name); status == "exited" {
			KillSession(name)
			cleaned++
		}
	}
	return cleaned
}

// GracefulShutdown signals every running managed session with C-c, waits
// up to timeout for them to exit on their own, then force-kills survivors.
func GracefulShutdown(timeout time.Duration) {
	sessions, err := ListSessions()
	if err != nil || len(sessions) == 0 {
		return
	}

	for _, name := range sessions {
		if status, _ := Status(name); status == "running" {
			SendSignal(name, "C-c")
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allDone := true
		for _, name := range sessions {
			if status, _ := Status(name); status == "running" {
				allDone = false
				break
			}
		}
		if allDone {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	for _, name := range sessions {
		KillSession(name)
	}
}
